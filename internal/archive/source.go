// Package archive implements upload.Archive for an ADR-style HTTP data
// repository and for S3-compatible object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"reportsync/internal/backend"
	"reportsync/internal/upload"
)

// ResultFetcher streams completed artifacts from the backend.
type ResultFetcher interface {
	Result(ctx context.Context, downloadID string) (*backend.Result, error)
}

// Content is an open file to be uploaded. The caller must close Body.
type Content struct {
	Body        io.ReadCloser
	Size        int64 // -1 when unknown
	ContentType string
}

// Source opens the content a descriptor points at.
type Source struct {
	http    *http.Client
	results ResultFetcher
}

// NewSource creates a Source. results may be nil when only URL sources are
// uploaded.
func NewSource(httpClient *http.Client, results ResultFetcher) *Source {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Source{http: httpClient, results: results}
}

// Open returns the descriptor's content. A source URL takes precedence over
// the backend result of DownloadID.
func (s *Source) Open(ctx context.Context, d upload.Descriptor) (*Content, error) {
	switch {
	case d.SourceURL != "":
		return s.openURL(ctx, d.SourceURL)
	case d.DownloadID != "" && s.results != nil:
		res, err := s.results.Result(ctx, d.DownloadID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch result %s: %w", d.DownloadID, err)
		}
		return &Content{Body: res.Body, Size: res.ContentLength, ContentType: res.ContentType}, nil
	default:
		return nil, errors.New("descriptor has no source")
	}
}

func (s *Source) openURL(ctx context.Context, rawURL string) (*Content, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newStatusError(resp)
	}
	return &Content{
		Body:        resp.Body,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// StatusError is a non-2xx response from the archive or a file source.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Message: string(body)}
}

// isClientError returns true for 4xx responses (shouldn't retry).
func isClientError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500
	}
	return backend.IsClientError(err)
}
