// Package backend is the HTTP client for the modeling backend's download API.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"reportsync/internal/download"
)

// Config holds backend client settings.
type Config struct {
	BaseURL           string
	Timeout           time.Duration // per-request timeout (default: 30s)
	MetadataCacheSize int           // completed-job metadata entries kept (default: 256)
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MetadataCacheSize <= 0 {
		c.MetadataCacheSize = 256
	}
	return c
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	// results streams artifact content and has no overall timeout.
	results *http.Client
	cache   *lru.Cache[string, download.Metadata]
	logger  *slog.Logger
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	cache, err := lru.New[string, download.Metadata](cfg.MetadataCacheSize)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		results: &http.Client{Transport: transport},
		cache:   cache,
		logger:  slog.With("component", "backend"),
	}, nil
}

// Submit implements download.Backend.
func (c *Client) Submit(ctx context.Context, artifact download.ArtifactType, calibrateID string, payload []byte) (string, error) {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, http.MethodPost, body, "download", "submit", string(artifact), calibrateID)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var out struct {
		ID         string `json:"id"`
		DownloadID string `json:"downloadId"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.DownloadID != "" {
		return out.DownloadID, nil
	}
	return out.ID, nil
}

// Status implements download.Backend.
func (c *Client) Status(ctx context.Context, downloadID string) (*download.JobStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "download", "status", downloadID)
	if err != nil {
		return nil, err
	}

	var status download.JobStatus
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Metadata implements download.Backend. Successful responses are cached per
// job, since a finished job's output does not change.
func (c *Client) Metadata(ctx context.Context, artifact download.ArtifactType, jobID string) (*download.Metadata, error) {
	key := string(artifact) + "/" + jobID
	if md, ok := c.cache.Get(key); ok {
		return &md, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, nil, "download", "metadata", string(artifact), jobID)
	if err != nil {
		return nil, err
	}

	var md download.Metadata
	if err := c.do(req, &md); err != nil {
		return nil, err
	}
	if md.ResourceFilename == "" {
		return nil, errors.New("metadata response has no resource filename")
	}
	c.cache.Add(key, md)
	return &md, nil
}

// Result is the content of a completed artifact. The caller must close Body.
type Result struct {
	Body          io.ReadCloser
	Filename      string
	ContentType   string
	ContentLength int64
}

// Result streams the content of a completed download.
func (c *Client) Result(ctx context.Context, downloadID string) (*Result, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "download", "result", downloadID)
	if err != nil {
		return nil, err
	}

	resp, err := c.results.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeResponse(resp, nil)
	}

	result := &Result{
		Body:          resp.Body,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		result.Filename = params["filename"]
	}
	return result, nil
}

// Ready checks that the backend is reachable.
func (c *Client) Ready(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, nil, "health")
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader, segments ...string) (*http.Request, error) {
	u := c.baseURL.JoinPath(segments...)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	err = decodeResponse(resp, out)
	c.logger.Debug("Backend request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return err
}

// Verify Client implements download.Backend
var _ download.Backend = (*Client)(nil)
