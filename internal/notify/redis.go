package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"reportsync/pkg/backoff"
	"reportsync/pkg/cloudevent"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "reportsync:events"

// Encodings
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL      string
	Channel  string        // default: reportsync:events
	Encoding string        // json or msgpack (default: json)
	Timeout  time.Duration // per-publish timeout (default: 5s)
	Retries  int           // retries after the first attempt (default: 0)
	Backoff  backoff.Config
}

// RedisSink publishes events via Redis PUBLISH.
type RedisSink struct {
	config RedisConfig
	client *goredis.Client
	encode func(*cloudevent.CloudEvent) ([]byte, error)
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis sink requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	var encode func(*cloudevent.CloudEvent) ([]byte, error)
	switch cfg.Encoding {
	case "", EncodingJSON:
		cfg.Encoding = EncodingJSON
		encode = encodeJSON
	case EncodingMsgpack:
		encode = encodeMsgpack
	default:
		return nil, fmt.Errorf("unknown redis encoding %q", cfg.Encoding)
	}

	return &RedisSink{
		config: cfg,
		client: goredis.NewClient(opts),
		encode: encode,
	}, nil
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Publish implements Sink. Failures are retried with exponential backoff.
func (s *RedisSink) Publish(ctx context.Context, event *cloudevent.CloudEvent) error {
	body, err := s.encode(event)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	err = backoff.Retry(ctx, backoff.Policy{
		Config:     s.config.Backoff,
		MaxRetries: s.config.Retries,
	}, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
		return s.client.Publish(publishCtx, s.config.Channel, body).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: publish failed after %d attempts: %w", s.config.Retries+1, err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func encodeJSON(event *cloudevent.CloudEvent) ([]byte, error) {
	return json.Marshal(event)
}

// encodeMsgpack encodes the structured-mode JSON form, so both encodings
// carry the same attribute names.
func encodeMsgpack(event *cloudevent.CloudEvent) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	return msgpack.Marshal(fields)
}

// Verify RedisSink implements Sink
var _ Sink = (*RedisSink)(nil)
