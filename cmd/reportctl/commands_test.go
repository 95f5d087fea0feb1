package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestParseFileSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		arg        string
		wantErr    bool
		wantURL    string
		wantDownID string
	}{
		{"url", "inputs-pjnz=malawi.pjnz=https://files/malawi.pjnz", false, "https://files/malawi.pjnz", ""},
		{"download", "outputs-summary=summary.xlsx=download:dl-1", false, "", "dl-1"},
		{"url keeps equals", "a=b.csv=http://x/?q=1", false, "http://x/?q=1", ""},
		{"missing source", "a=b.csv", true, "", ""},
		{"empty type", "=b.csv=http://x", true, "", ""},
		{"empty download id", "a=b.csv=download:", true, "", ""},
		{"bad source", "a=b.csv=/tmp/b.csv", true, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := parseFileSpec(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %+v", tt.arg, d)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d.SourceURL != tt.wantURL || d.DownloadID != tt.wantDownID {
				t.Errorf("Unexpected descriptor %+v", d)
			}
		})
	}
}

func runApp(t *testing.T, args ...string) error {
	t.Helper()
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	return app.Run(append([]string{"reportctl"}, args...))
}

func TestApp_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"unknown artifact", []string{"prepare", "--artifact", "bogus", "--calibrate-id", "cal-1"}},
		{"missing state file", []string{"prepare", "--artifact", "spectrum", "--calibrate-id", "cal-1", "--state-file", "/nonexistent/state.json"}},
		{"bad file spec", []string{"upload", "--dataset", "ds-1", "--file", "nonsense"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := runApp(t, tt.args...)
			var exitCoder cli.ExitCoder
			if !errors.As(err, &exitCoder) || exitCoder.ExitCode() != exitUsage {
				t.Errorf("Expected usage exit, got %v", err)
			}
		})
	}
}

func TestApp_RequiredFlags(t *testing.T) {
	t.Parallel()
	if err := runApp(t, "fetch"); err == nil {
		t.Error("Expected error without --download-id")
	}
}
