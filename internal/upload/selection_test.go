package upload

import (
	"testing"

	"reportsync/internal/download"
)

func completeState(t download.ArtifactType, filename string) download.DependencyState {
	st := download.Initial(t)
	st.DownloadID = "id-" + string(t)
	st.Complete = true
	st.Metadata = &download.Metadata{ResourceFilename: filename}
	return st
}

func TestDefaultSelection(t *testing.T) {
	t.Parallel()
	spectrum := download.Initial(download.Spectrum)
	spectrum.Complete = true // metadata missing

	states := []download.DependencyState{
		completeState(download.Summary, "summary.html"),
		spectrum,
		download.Initial(download.Comparison),
		completeState(download.Coarse, "coarse.zip"),
	}
	inputs := []Descriptor{file("pjnz.pjnz"), {ResourceType: "inputs"}}

	files := DefaultSelection(states, inputs)
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %+v", files)
	}
	if files[0].Filename != "summary.html" || files[1].Filename != "coarse.zip" || files[2].Filename != "pjnz.pjnz" {
		t.Errorf("unexpected order %+v", files)
	}
	if files[0].ResourceType != "outputs" || files[0].DownloadID != "id-summary" || files[0].Artifact != download.Summary {
		t.Errorf("unexpected output descriptor %+v", files[0])
	}
}

func TestOutputDescriptor_UsesMetadataResourceType(t *testing.T) {
	t.Parallel()
	st := completeState(download.AGYW, "agyw.xlsx")
	st.Metadata.ResourceType = "agyw-tool"
	st.Metadata.ResourceURL = "http://backend/agyw.xlsx"

	d, ok := OutputDescriptor(st)
	if !ok {
		t.Fatal("expected uploadable")
	}
	if d.ResourceType != "agyw-tool" || d.SourceURL != "http://backend/agyw.xlsx" {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestNarrow(t *testing.T) {
	t.Parallel()
	files := []Descriptor{
		{Artifact: download.Summary, Filename: "s"},
		{ResourceType: "pjnz", Filename: "p"},
		{Artifact: download.Coarse, Filename: "c"},
	}

	if got := Narrow(files, nil); len(got) != 3 {
		t.Errorf("expected empty keep list to keep all, got %d", len(got))
	}
	got := Narrow(files, []string{"coarse-output", "pjnz"})
	if len(got) != 2 || got[0].Filename != "p" || got[1].Filename != "c" {
		t.Errorf("unexpected narrowed files %+v", got)
	}
}
