package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/downloads/uploads take
// - Traffic: Request, submission and upload throughput
// - Errors: Rate of failures
// - Saturation: Artifacts being polled, dispatcher queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Download metrics (Latency, Traffic, Errors, Saturation)
	DownloadDuration       metric.Float64Histogram
	DownloadsSubmitted     metric.Int64Counter
	DownloadErrorsTotal    metric.Int64Counter
	DownloadsPolling       metric.Int64UpDownCounter
	PollRequestsTotal      metric.Int64Counter
	MetadataRequestsTotal  metric.Int64Counter
	MetadataErrorsTotal    metric.Int64Counter
	UploadFilesTotal       metric.Int64Counter
	UploadFileErrorsTotal  metric.Int64Counter
	UploadDuration         metric.Float64Histogram
	ReleasesTotal          metric.Int64Counter
	ReleaseErrorsTotal     metric.Int64Counter
	EventsPublished        metric.Int64Counter
	EventPublishErrorTotal metric.Int64Counter

	// Dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// counterSpec describes one Int64Counter to register.
type counterSpec struct {
	dst  *metric.Int64Counter
	name string
	desc string
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("reportsync")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	// Download and upload metrics
	m.DownloadDuration, err = meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Time from submission to terminal job status in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UploadDuration, err = meter.Float64Histogram(
		"upload_file_duration_seconds",
		metric.WithDescription("Archive file upload latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownloadsPolling, err = meter.Int64UpDownCounter(
		"downloads_polling",
		metric.WithDescription("Number of artifacts currently being polled (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "http_requests_total", "Total number of HTTP requests"},
		{&m.HTTPErrorsTotal, "http_errors_total", "Total number of HTTP errors (4xx and 5xx)"},
		{&m.DownloadsSubmitted, "downloads_submitted_total", "Total download submissions by outcome"},
		{&m.DownloadErrorsTotal, "download_errors_total", "Total downloads that ended in a job failure or poll error"},
		{&m.PollRequestsTotal, "download_poll_requests_total", "Total status requests sent to the backend"},
		{&m.MetadataRequestsTotal, "download_metadata_requests_total", "Total metadata requests sent to the backend"},
		{&m.MetadataErrorsTotal, "download_metadata_errors_total", "Total failed metadata requests"},
		{&m.UploadFilesTotal, "upload_files_total", "Total files uploaded to the archive by outcome"},
		{&m.UploadFileErrorsTotal, "upload_file_errors_total", "Total failed archive file uploads"},
		{&m.ReleasesTotal, "upload_releases_total", "Total archive release attempts"},
		{&m.ReleaseErrorsTotal, "upload_release_errors_total", "Total failed archive releases"},
		{&m.EventsPublished, "events_published_total", "Total lifecycle events handed to a sink"},
		{&m.EventPublishErrorTotal, "event_publish_errors_total", "Total lifecycle events a sink rejected"},
		{&m.DispatcherDelivered, "dispatcher_delivered_total", "Total events successfully delivered"},
		{&m.DispatcherFailed, "dispatcher_failed_total", "Total events failed after retries"},
		{&m.DispatcherDropped, "dispatcher_dropped_total", "Total events dropped (buffer full or max requeues)"},
		{&m.DispatcherRequeued, "dispatcher_requeued_total", "Total events requeued due to open circuit"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, nil, err
		}
	}

	// Dispatcher metrics
	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Webhook delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordDownloadSubmitted records a submission attempt.
func (m *Metrics) RecordDownloadSubmitted(ctx context.Context, artifact string, success bool) {
	m.DownloadsSubmitted.Add(ctx, 1, metric.WithAttributes(artifactAttr(artifact), successAttr(success)))
}

// RecordPollStarted records an artifact entering the polling state.
func (m *Metrics) RecordPollStarted(ctx context.Context, artifact string) {
	m.DownloadsPolling.Add(ctx, 1, metric.WithAttributes(artifactAttr(artifact)))
}

// RecordPollTick records one status request.
func (m *Metrics) RecordPollTick(ctx context.Context, artifact string, success bool) {
	m.PollRequestsTotal.Add(ctx, 1, metric.WithAttributes(artifactAttr(artifact), successAttr(success)))
}

// RecordDownloadCompleted records a download reaching a terminal status.
func (m *Metrics) RecordDownloadCompleted(ctx context.Context, artifact string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(artifactAttr(artifact), successAttr(success))
	m.DownloadDuration.Record(ctx, durationSeconds, attrs)
	m.DownloadsPolling.Add(ctx, -1, metric.WithAttributes(artifactAttr(artifact)))

	if !success {
		m.DownloadErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordDownloadCancelled records polling being cancelled.
func (m *Metrics) RecordDownloadCancelled(ctx context.Context, artifact string) {
	m.DownloadsPolling.Add(ctx, -1, metric.WithAttributes(artifactAttr(artifact)))
}

// RecordMetadataFetched records a metadata request.
func (m *Metrics) RecordMetadataFetched(ctx context.Context, artifact string, success bool) {
	attrs := metric.WithAttributes(artifactAttr(artifact), successAttr(success))
	m.MetadataRequestsTotal.Add(ctx, 1, attrs)
	if !success {
		m.MetadataErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordUploadFile records one archive file upload.
func (m *Metrics) RecordUploadFile(ctx context.Context, resourceType string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(resourceTypeAttr(resourceType), successAttr(success))
	m.UploadFilesTotal.Add(ctx, 1, attrs)
	m.UploadDuration.Record(ctx, durationSeconds, attrs)
	if !success {
		m.UploadFileErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRelease records an archive release attempt.
func (m *Metrics) RecordRelease(ctx context.Context, success bool) {
	attrs := metric.WithAttributes(successAttr(success))
	m.ReleasesTotal.Add(ctx, 1, attrs)
	if !success {
		m.ReleaseErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordEventPublished records a lifecycle event handed to a sink.
func (m *Metrics) RecordEventPublished(ctx context.Context, sink string, success bool) {
	attrs := metric.WithAttributes(sinkAttr(sink), successAttr(success))
	m.EventsPublished.Add(ctx, 1, attrs)
	if !success {
		m.EventPublishErrorTotal.Add(ctx, 1, attrs)
	}
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
