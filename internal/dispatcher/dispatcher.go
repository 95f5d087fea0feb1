// Package dispatcher delivers lifecycle events to webhook subscribers
// asynchronously, with buffering, retry and per-host circuit breaking.
package dispatcher

import (
	"context"
	"errors"

	"reportsync/pkg/cloudevent"
)

// ErrBufferFull is returned when the dispatcher's buffer is full and the event is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, event dropped")

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher handles async delivery of events.
type Dispatcher interface {
	// Dispatch queues a delivery. Non-blocking.
	// Returns ErrBufferFull if it cannot be queued.
	Dispatch(d *Delivery) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close gracefully shuts down, attempting to deliver queued events.
	// The context deadline controls how long to wait for drain.
	Close(ctx context.Context) error
}

// Delivery is one event bound for one webhook.
type Delivery struct {
	Event      *cloudevent.CloudEvent
	URL        string
	SigningKey string // HMAC key, empty = unsigned

	requeues int // times requeued while the host's circuit was open
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int   `json:"queueDepth"`
	Queued        int64 `json:"queued"`
	Delivered     int64 `json:"delivered"`
	Failed        int64 `json:"failed"`  // failed after retries
	Dropped       int64 `json:"dropped"` // full buffer or max requeues
	Requeued      int64 `json:"requeued"`
	Parked        int64 `json:"parked"` // requeued deliveries not yet back in the queue
	RetriesTotal  int64 `json:"retriesTotal"`
	BreakersTotal int   `json:"breakersTotal"`
	BreakersOpen  int   `json:"breakersOpen"`

	OpenHosts []string `json:"openHosts,omitempty"` // webhook hosts currently short-circuited
}
