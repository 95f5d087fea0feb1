// Package observability provides metrics for the service.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod       = "method"
	attrPath         = "path"
	attrStatus       = "status"
	attrArtifact     = "artifact"
	attrResourceType = "resource_type"
	attrSink         = "sink"
	attrSuccess      = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func artifactAttr(artifact string) attribute.KeyValue {
	return attribute.String(attrArtifact, artifact)
}

func resourceTypeAttr(resourceType string) attribute.KeyValue {
	return attribute.String(attrResourceType, resourceType)
}

func sinkAttr(sink string) attribute.KeyValue {
	return attribute.String(attrSink, sink)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizePath replaces dynamic path segments with placeholders.
// Route patterns ("/v1/uploads/{sessionId}") pass through unchanged.
func normalizePath(path string) string {
	if strings.Contains(path, "{") {
		return path
	}

	parts := strings.Split(path, "/")
	// parts[0] is empty for absolute paths
	switch {
	case len(parts) >= 4 && parts[1] == "v1" && parts[2] == "uploads":
		parts[3] = "{sessionId}"
	case len(parts) >= 4 && parts[1] == "v1" && parts[2] == "downloads":
		if parts[3] != "stream" && parts[3] != "prepare-all" {
			parts[3] = "{artifact}"
		}
	case len(parts) >= 5 && parts[1] == "v1" && parts[2] == "archive" && parts[3] == "datasets":
		parts[4] = "{datasetId}"
	}
	return strings.Join(parts, "/")
}
