package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reportsync/internal/upload"
	"reportsync/pkg/backoff"
)

// ADRConfig holds settings for the HTTP archive client.
type ADRConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per-request timeout (default: 5m, uploads can be large)
	MaxRetries int           // retries after the first attempt (default: 3)
	Backoff    backoff.Config
}

// withDefaults fills in zero values with defaults.
func (c ADRConfig) withDefaults() ADRConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// ADRClient talks to an ADR-style data repository over HTTP.
type ADRClient struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	source  *Source
	cfg     ADRConfig
	logger  *slog.Logger
}

// NewADRClient creates an ADRClient reading file content from source.
func NewADRClient(cfg ADRConfig, source *Source) (*ADRClient, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("archive base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid archive URL: %w", err)
	}
	if source == nil {
		source = NewSource(nil, nil)
	}
	return &ADRClient{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		source:  source,
		cfg:     cfg,
		logger:  slog.With("component", "adr"),
	}, nil
}

// ListResources implements upload.Archive.
func (c *ADRClient) ListResources(ctx context.Context, datasetID string) ([]upload.Resource, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "datasets", datasetID, "resources")
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp)
	}
	var resources []upload.Resource
	if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
		return nil, fmt.Errorf("failed to decode resources: %w", err)
	}
	return resources, nil
}

// UploadFile implements upload.Archive. Server errors and transport failures
// are retried with exponential backoff; 4xx responses are not.
func (c *ADRClient) UploadFile(ctx context.Context, datasetID string, file upload.Descriptor) error {
	logger := c.logger.With("datasetId", datasetID, "filename", file.Filename)

	attempts := 0
	err := backoff.Retry(ctx, backoff.Policy{
		Config:     c.cfg.Backoff,
		MaxRetries: c.cfg.MaxRetries,
		Retryable:  func(err error) bool { return !isClientError(err) },
		OnRetry: func(attempt int, wait time.Duration, err error) {
			logger.Warn("Upload failed, retrying", "attempt", attempt, "backoff", wait, "error", err)
		},
	}, func(ctx context.Context) error {
		attempts++
		return c.doUpload(ctx, datasetID, file)
	})
	if err != nil {
		if attempts > 1 {
			return fmt.Errorf("upload failed after %d attempts: %w", attempts, err)
		}
		return err
	}
	if attempts > 1 {
		logger.Info("Upload succeeded after retry", "attempts", attempts)
	}
	return nil
}

func (c *ADRClient) doUpload(ctx context.Context, datasetID string, file upload.Descriptor) error {
	content, err := c.source.Open(ctx, file)
	if err != nil {
		return err
	}
	defer content.Body.Close()

	req, err := c.newRequest(ctx, http.MethodPut, content.Body, "datasets", datasetID, "resources", file.ResourceType)
	if err != nil {
		return err
	}
	if content.Size >= 0 {
		req.ContentLength = content.Size
	}
	contentType := content.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Filename", file.Filename)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return newStatusError(resp)
}

// CreateRelease implements upload.Archive.
func (c *ADRClient) CreateRelease(ctx context.Context, datasetID string, release upload.Release) error {
	body, err := json.Marshal(release)
	if err != nil {
		return fmt.Errorf("failed to marshal release: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, bytes.NewReader(body), "datasets", datasetID, "releases")
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newStatusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	c.logger.Info("Release created", "datasetId", datasetID, "release", release.Name)
	return nil
}

func (c *ADRClient) newRequest(ctx context.Context, method string, body io.Reader, segments ...string) (*http.Request, error) {
	u := c.baseURL.JoinPath(segments...)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	return req, nil
}

// Verify ADRClient implements upload.Archive
var _ upload.Archive = (*ADRClient)(nil)
