package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"reportsync/internal/download"
	"reportsync/internal/upload"
	"reportsync/pkg/cloudevent"
)

// ErrClosed is returned when publishing on a closed Notifier.
var ErrClosed = errors.New("notifier is closed")

// Config holds Notifier settings.
type Config struct {
	Source         string        // CloudEvent source (default: reportsync)
	EventFilter    []string      // event types to publish, empty = all
	QueueSize      int           // pending events (default: 256)
	PublishTimeout time.Duration // per-sink publish timeout (default: 10s)
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	return c
}

// MetricsRecorder records event publishing. Optional.
type MetricsRecorder interface {
	RecordEventPublished(ctx context.Context, sink string, success bool)
}

// Notifier turns state changes into CloudEvents and fans them out to sinks
// from a single worker goroutine, in the order they were observed.
type Notifier struct {
	config  Config
	builder *EventBuilder
	sinks   []Sink
	logger  *slog.Logger
	metrics MetricsRecorder

	queue chan *cloudevent.CloudEvent
	done  chan struct{}

	mu     sync.Mutex
	last   map[download.ArtifactType]download.DependencyState
	closed bool
}

// New creates a Notifier and starts its worker. A nil metrics recorder
// disables metrics.
func New(cfg Config, sinks []Sink, metrics MetricsRecorder) *Notifier {
	cfg = cfg.withDefaults()
	n := &Notifier{
		config:  cfg,
		builder: NewEventBuilder(cfg.Source),
		sinks:   sinks,
		logger:  slog.With("component", "notify"),
		metrics: metrics,
		queue:   make(chan *cloudevent.CloudEvent, cfg.QueueSize),
		done:    make(chan struct{}),
		last:    make(map[download.ArtifactType]download.DependencyState),
	}
	go n.run()
	return n
}

// Watch publishes an event for every lifecycle change in store. The
// returned function stops watching.
func (n *Notifier) Watch(store *download.Store) func() {
	unsubscribe := store.Subscribe(n.observe)

	n.mu.Lock()
	for _, st := range store.Snapshot() {
		if prev, ok := n.last[st.Artifact]; !ok || st.Revision > prev.Revision {
			n.last[st.Artifact] = st
		}
	}
	n.mu.Unlock()

	return unsubscribe
}

// observe runs as a store listener, possibly concurrently for one artifact.
// Stale revisions are dropped; the transition from the last seen state
// covers them.
func (n *Notifier) observe(next download.DependencyState) {
	n.mu.Lock()
	prev, ok := n.last[next.Artifact]
	if ok && next.Revision <= prev.Revision {
		n.mu.Unlock()
		return
	}
	if !ok {
		prev = download.Initial(next.Artifact)
	}
	n.last[next.Artifact] = next
	if next.Cycle != prev.Cycle {
		// A reset happened in between; describe the new cycle from scratch.
		prev = download.Initial(next.Artifact)
	}
	events := n.builder.Transitions(prev, next)
	for _, e := range events {
		n.enqueueLocked(e)
	}
	n.mu.Unlock()
}

// UploadFinished publishes the outcome of an upload session.
func (n *Notifier) UploadFinished(out *upload.Outcome) {
	if out == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueueLocked(n.builder.UploadFinished(out))
}

// Publish queues an arbitrary event.
func (n *Notifier) Publish(event *cloudevent.CloudEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	n.enqueueLocked(event)
	return nil
}

func (n *Notifier) enqueueLocked(event *cloudevent.CloudEvent) {
	if n.closed || !Filtered(event.Type, n.config.EventFilter) {
		return
	}
	select {
	case n.queue <- event:
	default:
		n.logger.Warn("Event queue full, dropping event",
			"type", event.Type,
			"subject", event.Subject,
		)
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for event := range n.queue {
		n.publish(event)
	}
}

func (n *Notifier) publish(event *cloudevent.CloudEvent) {
	for _, sink := range n.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), n.config.PublishTimeout)
		err := sink.Publish(ctx, event)
		cancel()

		if n.metrics != nil {
			n.metrics.RecordEventPublished(context.Background(), sink.Name(), err == nil)
		}
		if err != nil {
			n.logger.Warn("Failed to publish event",
				"sink", sink.Name(),
				"type", event.Type,
				"subject", event.Subject,
				"error", err,
			)
			continue
		}
		n.logger.Debug("Event published",
			"sink", sink.Name(),
			"type", event.Type,
			"subject", event.Subject,
		)
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
