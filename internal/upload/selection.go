package upload

import (
	"slices"

	"reportsync/internal/download"
)

// outputResourceType is used when the backend metadata has no resource type.
const outputResourceType = "outputs"

// OutputDescriptor builds the descriptor of a prepared artifact. It reports
// false when the artifact is not uploadable.
func OutputDescriptor(st download.DependencyState) (Descriptor, bool) {
	if !st.Uploadable() {
		return Descriptor{}, false
	}
	md := st.Metadata
	d := Descriptor{
		ResourceType: md.ResourceType,
		Filename:     md.ResourceFilename,
		SourceURL:    md.ResourceURL,
		Artifact:     st.Artifact,
		DownloadID:   st.DownloadID,
	}
	if d.ResourceType == "" {
		d.ResourceType = outputResourceType
	}
	return d, true
}

// DefaultSelection returns every uploadable artifact followed by every
// input, in that order. Input descriptors missing a filename or resource
// type are skipped.
func DefaultSelection(states []download.DependencyState, inputs []Descriptor) []Descriptor {
	files := make([]Descriptor, 0, len(states)+len(inputs))
	for _, st := range states {
		if d, ok := OutputDescriptor(st); ok {
			files = append(files, d)
		}
	}
	for _, in := range inputs {
		if in.Filename == "" || in.ResourceType == "" {
			continue
		}
		files = append(files, in)
	}
	return files
}

// Narrow keeps the files whose Key is in keep, preserving order. An empty
// keep list keeps everything.
func Narrow(files []Descriptor, keep []string) []Descriptor {
	if len(keep) == 0 {
		return files
	}
	narrowed := make([]Descriptor, 0, len(keep))
	for _, f := range files {
		if slices.Contains(keep, f.Key()) {
			narrowed = append(narrowed, f)
		}
	}
	return narrowed
}
