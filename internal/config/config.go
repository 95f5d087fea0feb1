// Package config provides configuration loading from an optional YAML file
// and environment variables. Environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"reportsync/internal/archive"
	"reportsync/internal/backend"
	"reportsync/internal/dispatcher"
	"reportsync/internal/download"
	"reportsync/internal/notify"
)

// Archive backends
const (
	ArchiveADR = archive.KindADR
	ArchiveS3  = archive.KindS3
)

// Config is the full service configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Backend    BackendConfig    `yaml:"backend"`
	Download   DownloadConfig   `yaml:"download"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Notify     NotifyConfig     `yaml:"notify"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Upload     UploadConfig     `yaml:"upload"`
}

// ServiceConfig holds HTTP server settings.
type ServiceConfig struct {
	Port              string   `yaml:"port"`
	MetricsPort       string   `yaml:"metrics_port"`
	APIKey            string   `yaml:"api_key"`
	ShutdownDrainWait Duration `yaml:"shutdown_drain_wait"` // time to wait for load balancer to drain (0 to skip)
}

// BackendConfig holds settings for the report backend.
type BackendConfig struct {
	URL               string   `yaml:"url"`
	Timeout           Duration `yaml:"timeout"`
	MetadataCacheSize int      `yaml:"metadata_cache_size"`
}

// DownloadConfig holds polling settings.
type DownloadConfig struct {
	PollInterval    Duration `yaml:"poll_interval"`
	MaxPollAttempts int      `yaml:"max_poll_attempts"`
	Artifacts       []string `yaml:"artifacts"`
}

// ArchiveConfig selects and configures the archive backend.
type ArchiveConfig struct {
	Type string          `yaml:"type"`
	ADR  ADRConfig       `yaml:"adr"`
	S3   S3ArchiveConfig `yaml:"s3"`
}

// ADRConfig holds the data repository API settings.
type ADRConfig struct {
	URL        string   `yaml:"url"`
	APIKey     string   `yaml:"api_key"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
}

// S3ArchiveConfig holds object storage settings.
type S3ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NotifyConfig configures lifecycle event sinks. Sinks without a URL are
// disabled.
type NotifyConfig struct {
	Source  string        `yaml:"source"`
	Events  []string      `yaml:"events"`
	Webhook WebhookConfig `yaml:"webhook"`
	Redis   RedisConfig   `yaml:"redis"`
}

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	URL        string `yaml:"url"`
	SigningKey string `yaml:"signing_key"`
}

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	URL      string   `yaml:"url"`
	Channel  string   `yaml:"channel"`
	Encoding string   `yaml:"encoding"`
	Timeout  Duration `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

// DispatcherConfig holds webhook delivery settings.
type DispatcherConfig struct {
	BufferSize       int      `yaml:"buffer_size"`
	Workers          int      `yaml:"workers"`
	HTTPTimeout      Duration `yaml:"http_timeout"`
	MaxRetries       int      `yaml:"max_retries"`
	BreakerThreshold int      `yaml:"breaker_threshold"`
	BreakerCooldown  Duration `yaml:"breaker_cooldown"`
	MaxRequeues      int      `yaml:"max_requeues"`
}

// UploadConfig holds upload session settings.
type UploadConfig struct {
	SessionCacheSize int `yaml:"session_cache_size"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:              "8080",
			MetricsPort:       "9090",
			ShutdownDrainWait: Duration{5 * time.Second},
		},
		Backend: BackendConfig{
			Timeout:           Duration{30 * time.Second},
			MetadataCacheSize: 256,
		},
		Download: DownloadConfig{
			PollInterval: Duration{2 * time.Second},
		},
		Archive: ArchiveConfig{
			Type: ArchiveADR,
			ADR: ADRConfig{
				Timeout:    Duration{5 * time.Minute},
				MaxRetries: 3,
			},
			S3: S3ArchiveConfig{
				Region: "us-east-1",
				UseSSL: true,
			},
		},
		Notify: NotifyConfig{
			Source: "reportsync",
			Redis: RedisConfig{
				Channel:  notify.DefaultChannel,
				Encoding: notify.EncodingJSON,
				Timeout:  Duration{5 * time.Second},
			},
		},
		Dispatcher: DispatcherConfig{
			BufferSize:       1000,
			Workers:          4,
			HTTPTimeout:      Duration{10 * time.Second},
			MaxRetries:       3,
			BreakerThreshold: 5,
			BreakerCooldown:  Duration{30 * time.Second},
			MaxRequeues:      10,
		},
		Upload: UploadConfig{
			SessionCacheSize: 128,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, in that order. A .env file in the
// working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile reads a YAML config file, expands environment variables, and
// unmarshals it over the current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides values with environment variables that are set.
func (c *Config) applyEnv() {
	c.Service.Port = GetEnv("PORT", c.Service.Port)
	c.Service.MetricsPort = GetEnv("METRICS_PORT", c.Service.MetricsPort)
	c.Service.APIKey = GetSecretEnv("API_KEY", c.Service.APIKey)
	c.Service.ShutdownDrainWait.Duration = GetDurationEnv("SHUTDOWN_DRAIN_WAIT", c.Service.ShutdownDrainWait.Duration)

	c.Backend.URL = GetEnv("BACKEND_URL", c.Backend.URL)
	c.Backend.Timeout.Duration = GetDurationEnv("BACKEND_TIMEOUT", c.Backend.Timeout.Duration)
	c.Backend.MetadataCacheSize = GetIntEnv("BACKEND_METADATA_CACHE_SIZE", c.Backend.MetadataCacheSize)

	c.Download.PollInterval.Duration = GetDurationEnv("DOWNLOAD_POLL_INTERVAL", c.Download.PollInterval.Duration)
	c.Download.MaxPollAttempts = GetIntEnv("DOWNLOAD_MAX_POLL_ATTEMPTS", c.Download.MaxPollAttempts)
	c.Download.Artifacts = GetListEnv("DOWNLOAD_ARTIFACTS", c.Download.Artifacts)

	c.Archive.Type = GetEnv("ARCHIVE_TYPE", c.Archive.Type)
	c.Archive.ADR.URL = GetEnv("ADR_URL", c.Archive.ADR.URL)
	c.Archive.ADR.APIKey = GetSecretEnv("ADR_API_KEY", c.Archive.ADR.APIKey)
	c.Archive.ADR.Timeout.Duration = GetDurationEnv("ADR_TIMEOUT", c.Archive.ADR.Timeout.Duration)
	c.Archive.ADR.MaxRetries = GetIntEnv("ADR_MAX_RETRIES", c.Archive.ADR.MaxRetries)
	c.Archive.S3.Endpoint = GetEnv("S3_ENDPOINT", c.Archive.S3.Endpoint)
	c.Archive.S3.Region = GetEnv("S3_REGION", c.Archive.S3.Region)
	c.Archive.S3.AccessKey = GetEnv("S3_ACCESS_KEY", c.Archive.S3.AccessKey)
	c.Archive.S3.SecretKey = GetSecretEnv("S3_SECRET_KEY", c.Archive.S3.SecretKey)
	c.Archive.S3.Bucket = GetEnv("S3_BUCKET", c.Archive.S3.Bucket)
	c.Archive.S3.UseSSL = GetBoolEnv("S3_USE_SSL", c.Archive.S3.UseSSL)

	c.Notify.Source = GetEnv("NOTIFY_SOURCE", c.Notify.Source)
	c.Notify.Events = GetListEnv("NOTIFY_EVENTS", c.Notify.Events)
	c.Notify.Webhook.URL = GetEnv("WEBHOOK_URL", c.Notify.Webhook.URL)
	c.Notify.Webhook.SigningKey = GetSecretEnv("WEBHOOK_SIGNING_KEY", c.Notify.Webhook.SigningKey)
	c.Notify.Redis.URL = GetEnv("REDIS_URL", c.Notify.Redis.URL)
	c.Notify.Redis.Channel = GetEnv("REDIS_CHANNEL", c.Notify.Redis.Channel)
	c.Notify.Redis.Encoding = GetEnv("REDIS_ENCODING", c.Notify.Redis.Encoding)
	c.Notify.Redis.Timeout.Duration = GetDurationEnv("REDIS_TIMEOUT", c.Notify.Redis.Timeout.Duration)
	c.Notify.Redis.Retries = GetIntEnv("REDIS_RETRIES", c.Notify.Redis.Retries)

	c.Dispatcher.BufferSize = GetIntEnv("DISPATCHER_BUFFER_SIZE", c.Dispatcher.BufferSize)
	c.Dispatcher.Workers = GetIntEnv("DISPATCHER_WORKERS", c.Dispatcher.Workers)
	c.Dispatcher.HTTPTimeout.Duration = GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", c.Dispatcher.HTTPTimeout.Duration)
	c.Dispatcher.MaxRetries = GetIntEnv("DISPATCHER_MAX_RETRIES", c.Dispatcher.MaxRetries)
	c.Dispatcher.BreakerThreshold = GetIntEnv("DISPATCHER_BREAKER_THRESHOLD", c.Dispatcher.BreakerThreshold)
	c.Dispatcher.BreakerCooldown.Duration = GetDurationEnv("DISPATCHER_BREAKER_COOLDOWN", c.Dispatcher.BreakerCooldown.Duration)
	c.Dispatcher.MaxRequeues = GetIntEnv("DISPATCHER_MAX_REQUEUES", c.Dispatcher.MaxRequeues)

	c.Upload.SessionCacheSize = GetIntEnv("UPLOAD_SESSION_CACHE_SIZE", c.Upload.SessionCacheSize)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	}
	if _, err := c.DownloadArtifacts(); err != nil {
		errs = append(errs, err)
	}
	switch c.Archive.Type {
	case ArchiveADR:
		if c.Archive.ADR.URL == "" {
			errs = append(errs, errors.New("archive.adr.url is required"))
		}
	case ArchiveS3:
		if c.Archive.S3.Endpoint == "" || c.Archive.S3.Bucket == "" {
			errs = append(errs, errors.New("archive.s3.endpoint and archive.s3.bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.type must be %q or %q, got %q", ArchiveADR, ArchiveS3, c.Archive.Type))
	}
	switch c.Notify.Redis.Encoding {
	case "", notify.EncodingJSON, notify.EncodingMsgpack:
	default:
		errs = append(errs, fmt.Errorf("notify.redis.encoding must be %q or %q", notify.EncodingJSON, notify.EncodingMsgpack))
	}
	return errors.Join(errs...)
}

// DownloadArtifacts returns the artifact types to track. Empty means all.
func (c *Config) DownloadArtifacts() ([]download.ArtifactType, error) {
	out := make([]download.ArtifactType, 0, len(c.Download.Artifacts))
	for _, name := range c.Download.Artifacts {
		t, err := download.ParseArtifactType(name)
		if err != nil {
			return nil, fmt.Errorf("download.artifacts: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// BackendClient returns the backend client settings.
func (c *Config) BackendClient() backend.Config {
	return backend.Config{
		BaseURL:           c.Backend.URL,
		Timeout:           c.Backend.Timeout.Duration,
		MetadataCacheSize: c.Backend.MetadataCacheSize,
	}
}

// DownloadManager returns the download manager settings.
func (c *Config) DownloadManager() download.Config {
	return download.Config{
		PollInterval:    c.Download.PollInterval.Duration,
		MaxPollAttempts: c.Download.MaxPollAttempts,
	}
}

// ADRClient returns the data repository client settings.
func (c *Config) ADRClient() archive.ADRConfig {
	return archive.ADRConfig{
		BaseURL:    c.Archive.ADR.URL,
		APIKey:     c.Archive.ADR.APIKey,
		Timeout:    c.Archive.ADR.Timeout.Duration,
		MaxRetries: c.Archive.ADR.MaxRetries,
	}
}

// S3Archive returns the object storage settings.
func (c *Config) S3Archive() archive.S3Config {
	return archive.S3Config{
		Endpoint:  c.Archive.S3.Endpoint,
		Region:    c.Archive.S3.Region,
		AccessKey: c.Archive.S3.AccessKey,
		SecretKey: c.Archive.S3.SecretKey,
		Bucket:    c.Archive.S3.Bucket,
		UseSSL:    c.Archive.S3.UseSSL,
	}
}

// ArchiveBackend returns the settings for the configured archive kind.
func (c *Config) ArchiveBackend() archive.Config {
	return archive.Config{Kind: c.Archive.Type, ADR: c.ADRClient(), S3: c.S3Archive()}
}

// DispatcherMemory returns the webhook dispatcher settings.
func (c *Config) DispatcherMemory() dispatcher.MemoryConfig {
	return dispatcher.MemoryConfig{
		BufferSize:       c.Dispatcher.BufferSize,
		Workers:          c.Dispatcher.Workers,
		HTTPTimeout:      c.Dispatcher.HTTPTimeout.Duration,
		MaxRetries:       c.Dispatcher.MaxRetries,
		BreakerThreshold: c.Dispatcher.BreakerThreshold,
		BreakerCooldown:  c.Dispatcher.BreakerCooldown.Duration,
		MaxRequeues:      c.Dispatcher.MaxRequeues,
	}
}

// RedisSink returns the Redis sink settings.
func (c *Config) RedisSink() notify.RedisConfig {
	return notify.RedisConfig{
		URL:      c.Notify.Redis.URL,
		Channel:  c.Notify.Redis.Channel,
		Encoding: c.Notify.Redis.Encoding,
		Timeout:  c.Notify.Redis.Timeout.Duration,
		Retries:  c.Notify.Redis.Retries,
	}
}

// Notifier returns the event notifier settings.
func (c *Config) Notifier() notify.Config {
	return notify.Config{
		Source:      c.Notify.Source,
		EventFilter: c.Notify.Events,
	}
}
