package notify

import (
	"context"
	"errors"

	"reportsync/internal/dispatcher"
	"reportsync/pkg/cloudevent"
)

// Sink is a destination for lifecycle events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event *cloudevent.CloudEvent) error
}

// WebhookSink queues events on a dispatcher for delivery to one URL.
type WebhookSink struct {
	dispatcher dispatcher.Dispatcher
	url        string
	signingKey string
}

// NewWebhookSink creates a WebhookSink. signingKey may be empty.
func NewWebhookSink(d dispatcher.Dispatcher, url, signingKey string) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook URL is required")
	}
	return &WebhookSink{dispatcher: d, url: url, signingKey: signingKey}, nil
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return "webhook" }

// Publish implements Sink. Delivery happens asynchronously; the error only
// reports whether the event was queued.
func (s *WebhookSink) Publish(_ context.Context, event *cloudevent.CloudEvent) error {
	return s.dispatcher.Dispatch(&dispatcher.Delivery{
		Event:      event,
		URL:        s.url,
		SigningKey: s.signingKey,
	})
}
