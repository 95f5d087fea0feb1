package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseSize limits JSON responses to 10MB.
const maxResponseSize = 10 << 20

// ErrorDetail is one entry of the backend's errors array.
type ErrorDetail struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// ResponseError is a backend response classified as a failure: either a
// non-2xx status or a body carrying an errors array.
type ResponseError struct {
	StatusCode int
	Errors     []ErrorDetail
}

func (e *ResponseError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		switch {
		case d.Detail != "" && d.Error != "":
			msgs = append(msgs, d.Error+": "+d.Detail)
		case d.Detail != "":
			msgs = append(msgs, d.Detail)
		default:
			msgs = append(msgs, d.Error)
		}
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.Join(msgs, "; "))
}

// IsClientError returns true for 4xx responses (shouldn't retry).
func IsClientError(err error) bool {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.StatusCode >= 400 && re.StatusCode < 500
	}
	return false
}

// envelope is the optional wrapper around backend payloads.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []ErrorDetail   `json:"errors"`
}

// decodeResponse classifies resp and, on success, decodes its payload into
// out. A payload wrapped as {"data": ...} is unwrapped.
func decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	isObject := len(bytes.TrimSpace(body)) > 0 && bytes.TrimSpace(body)[0] == '{'
	if isObject {
		// A body that is not valid JSON is handled below by the status check
		// or the final decode.
		_ = json.Unmarshal(body, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || len(env.Errors) > 0 {
		return &ResponseError{StatusCode: resp.StatusCode, Errors: env.Errors}
	}

	if out == nil {
		return nil
	}
	payload := body
	if len(env.Data) > 0 && string(env.Data) != "null" {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
