// Package cloudevent provides CloudEvents 1.0 types.
package cloudevent

import (
	"encoding/json"
	"time"
)

// CloudEvent represents a CloudEvents 1.0 specification event
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data"`

	// Extensions are additional context attributes. They are serialized as
	// top-level members and sent as Ce- headers.
	Extensions map[string]string `json:"-"`
}

// New creates a new CloudEvent with default values
func New(eventType, source, subject, id string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// WithExtension sets an extension attribute. Names must be lowercase
// alphanumeric; an empty value is ignored.
func (e *CloudEvent) WithExtension(name, value string) *CloudEvent {
	if value == "" {
		return e
	}
	if e.Extensions == nil {
		e.Extensions = make(map[string]string)
	}
	e.Extensions[name] = value
	return e
}

// MarshalJSON flattens extensions into the top-level object.
func (e CloudEvent) MarshalJSON() ([]byte, error) {
	type plain CloudEvent
	body, err := json.Marshal(plain(e))
	if err != nil || len(e.Extensions) == 0 {
		return body, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	for name, value := range e.Extensions {
		if _, reserved := fields[name]; reserved {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		fields[name] = raw
	}
	return json.Marshal(fields)
}
