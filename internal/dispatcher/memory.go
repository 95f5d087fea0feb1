package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"reportsync/pkg/backoff"
	"reportsync/pkg/circuitbreaker"
	"reportsync/pkg/cloudevent"
)

// MemoryDispatcher is an in-memory async event dispatcher.
// Deliveries are queued in a bounded channel and sent by a worker pool.
// If the buffer is full, deliveries are dropped (logged + metric incremented).
type MemoryDispatcher struct {
	queue    chan *Delivery
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder

	// Internal counters (for Stats())
	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64
	parked       atomic.Int64 // requeued, waiting out a cooldown

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// MetricsRecorder is an optional interface for recording dispatcher metrics.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// NewMemory creates a new in-memory dispatcher.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	logger := slog.With("component", "dispatcher")

	d := &MemoryDispatcher{
		queue:  make(chan *Delivery, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
			OnStateChange: func(host string, from, to circuitbreaker.State) {
				logger.Info("Webhook circuit changed", "host", host, "from", from.String(), "to", to.String())
			},
		}),
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}

	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

// reportQueueSize periodically reports the queue size metric.
func (d *MemoryDispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch queues a delivery.
func (d *MemoryDispatcher) Dispatch(delivery *Delivery) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- delivery:
		d.queued.Add(1)
		return nil
	default:
		d.drop(delivery, "Event dropped, buffer full")
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	breakerStats := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.queue),
		Queued:        d.queued.Load(),
		Delivered:     d.delivered.Load(),
		Failed:        d.failed.Load(),
		Dropped:       d.dropped.Load(),
		Requeued:      d.requeued.Load(),
		Parked:        d.parked.Load(),
		RetriesTotal:  d.retriesTotal.Load(),
		BreakersTotal: breakerStats.Total,
		BreakersOpen:  breakerStats.Open,
		OpenHosts:     d.breakers.OpenKeys(),
	}
}

// Close gracefully shuts down the dispatcher.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil // already closed
	}

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
			"parked", d.parked.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			d.drainQueue()
			return
		case delivery := <-d.queue:
			d.deliver(delivery)
		}
	}
}

// drainQueue sends what is left after the shutdown signal.
func (d *MemoryDispatcher) drainQueue() {
	for {
		select {
		case delivery := <-d.queue:
			d.deliver(delivery)
		default:
			return
		}
	}
}

// deliver sends one delivery with retry, guarded by the host's breaker.
func (d *MemoryDispatcher) deliver(delivery *Delivery) {
	host := extractHost(delivery.URL)
	breaker := d.breakers.Get(host)

	if !breaker.Allow() {
		delay := breaker.RetryAfter()
		if delay <= 0 {
			// half-open with a probe in flight
			delay = d.config.BreakerCooldown
		}
		d.requeue(delivery, host, delay)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.config.deliveryTimeout())
	defer cancel()

	start := time.Now()
	if err := d.sendWithRetry(ctx, delivery); err != nil {
		breaker.RecordFailure()
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Delivery failed", "destination", host, "type", delivery.Event.Type, "error", err)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue puts a delivery back once the host's breaker may admit it again.
func (d *MemoryDispatcher) requeue(delivery *Delivery, host string, delay time.Duration) {
	if delivery.requeues >= d.config.MaxRequeues {
		d.drop(delivery, "Event dropped, max requeues reached")
		return
	}

	delivery.requeues++
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	d.parked.Add(1)
	go func() {
		defer d.parked.Add(-1)

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-d.shutdown:
			d.drop(delivery, "Event dropped, dispatcher closed while circuit open")
			return
		case <-timer.C:
		}

		select {
		case d.queue <- delivery:
			d.logger.Debug("Event requeued", "destination", host, "type", delivery.Event.Type, "requeues", delivery.requeues)
		case <-d.shutdown:
			d.drop(delivery, "Event dropped, dispatcher closed while circuit open")
		default:
			d.drop(delivery, "Event dropped on requeue, buffer full")
		}
	}()
}

func (d *MemoryDispatcher) drop(delivery *Delivery, msg string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn(msg, "destination", extractHost(delivery.URL), "type", delivery.Event.Type)
}

func (d *MemoryDispatcher) sendWithRetry(ctx context.Context, delivery *Delivery) error {
	opts := cloudevent.SendOptions{SigningKey: delivery.SigningKey}
	return backoff.Retry(ctx, backoff.Policy{
		Config:     d.config.Backoff,
		MaxRetries: d.config.MaxRetries,
		Retryable:  func(err error) bool { return !cloudevent.IsClientError(err) },
		OnRetry: func(int, time.Duration, error) {
			d.retriesTotal.Add(1)
		},
	}, func(ctx context.Context) error {
		return d.sender.Send(ctx, delivery.URL, delivery.Event, opts)
	})
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// Verify MemoryDispatcher implements Dispatcher
var _ Dispatcher = (*MemoryDispatcher)(nil)
