package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"reportsync/internal/archive"
	"reportsync/internal/backend"
	"reportsync/internal/config"
	"reportsync/internal/download"
	"reportsync/internal/upload"
)

// Exit codes
const (
	exitFailed     = 1 // the operation ran and failed
	exitUsage      = 2
	exitIncomplete = 3 // uploads finished with some file or release errors
)

func prepareCommand() *cli.Command {
	return &cli.Command{
		Name:  "prepare",
		Usage: "Submit an artifact, wait for it and print its state",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "artifact", Usage: "artifact type", Required: true},
			&cli.StringFlag{Name: "calibrate-id", Usage: "calibration result the artifact is built from", Required: true},
			&cli.PathFlag{Name: "state-file", Usage: "project state JSON, required for spectrum"},
			&cli.DurationFlag{Name: "timeout", Usage: "how long to wait for the backend", Value: 10 * time.Minute},
		},
		Action: prepareAction,
	}
}

func prepareAction(c *cli.Context) error {
	artifact, err := download.ParseArtifactType(c.String("artifact"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	var payload json.RawMessage
	if path := c.Path("state-file"); path != "" {
		payload, err = os.ReadFile(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("read state file: %v", err), exitUsage)
		}
		if !json.Valid(payload) {
			return cli.Exit("state file is not valid JSON", exitUsage)
		}
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	client, err := backend.New(cfg.BackendClient())
	if err != nil {
		return err
	}
	manager := download.NewManager(client, download.NewStore(artifact), cfg.DownloadManager(), nil)
	defer manager.Close()

	ctx, cancel := commandContext(c, c.Duration("timeout"))
	defer cancel()

	if _, err := manager.Prepare(ctx, download.PrepareRequest{
		Artifact:    artifact,
		CalibrateID: c.String("calibrate-id"),
		Payload:     payload,
	}); err != nil {
		return err
	}
	st, err := manager.Await(ctx, artifact)
	if err != nil {
		return err
	}
	if st.Complete {
		manager.FetchMetadata(ctx, artifact)
		st, _ = manager.Get(artifact)
	}

	if err := printJSON(c.App.Writer, st); err != nil {
		return err
	}
	if st.DownloadError != nil {
		return cli.Exit("", exitFailed)
	}
	return nil
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Download a completed artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "download-id", Usage: "download ID returned by prepare", Required: true},
			&cli.PathFlag{Name: "out", Usage: "output file, - for stdout", Value: "-"},
		},
		Action: fetchAction,
	}
}

func fetchAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	client, err := backend.New(cfg.BackendClient())
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(c, 0)
	defer cancel()

	res, err := client.Result(ctx, c.String("download-id"))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	out := c.App.Writer
	if path := c.Path("out"); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	n, err := io.Copy(out, res.Body)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	fmt.Fprintf(c.App.ErrWriter, "Fetched %s (%d bytes)\n", res.Filename, n)
	return nil
}

func resourcesCommand() *cli.Command {
	return &cli.Command{
		Name:  "resources",
		Usage: "List the files in an archive dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dataset", Usage: "archive dataset ID", Required: true},
		},
		Action: func(c *cli.Context) error {
			store, err := openArchive(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c, 0)
			defer cancel()

			resources, err := store.ListResources(ctx, c.String("dataset"))
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, resources)
		},
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload files to an archive dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dataset", Usage: "archive dataset ID", Required: true},
			&cli.StringSliceFlag{
				Name:     "file",
				Usage:    "file to upload as TYPE=FILENAME=SOURCE, where SOURCE is a URL or download:ID",
				Required: true,
			},
			&cli.StringFlag{Name: "release", Usage: "create a release with this name after uploading"},
		},
		Action: uploadAction,
	}
}

func uploadAction(c *cli.Context) error {
	var files []upload.Descriptor
	for _, arg := range c.StringSlice("file") {
		d, err := parseFileSpec(arg)
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		files = append(files, d)
	}

	store, err := openArchive(c)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(c, 0)
	defer cancel()

	req := upload.Request{
		SessionID:     uuid.NewString(),
		DatasetID:     c.String("dataset"),
		Files:         files,
		CreateRelease: c.String("release") != "",
		Release:       upload.Release{Name: c.String("release")},
	}
	out, err := upload.NewCoordinator(store, nil).Upload(ctx, req, func(p upload.Progress) {
		line := fmt.Sprintf("[%d/%d] %s %s", p.Index, p.Total, p.File.Filename, p.Status)
		if p.Err != nil {
			line += ": " + p.Err.Error()
		}
		fmt.Fprintln(c.App.ErrWriter, line)
	})
	if err != nil {
		return err
	}

	if err := printJSON(c.App.Writer, out); err != nil {
		return err
	}
	switch out.Status {
	case upload.OutcomeSuccess:
		return nil
	case upload.OutcomeCancelled:
		return cli.Exit("upload cancelled", exitFailed)
	default:
		return cli.Exit("", exitIncomplete)
	}
}

// parseFileSpec reads TYPE=FILENAME=SOURCE. SOURCE is an http(s) URL, or
// download:ID for a completed backend result.
func parseFileSpec(arg string) (upload.Descriptor, error) {
	parts := strings.SplitN(arg, "=", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return upload.Descriptor{}, fmt.Errorf("invalid file %q: want TYPE=FILENAME=SOURCE", arg)
	}
	d := upload.Descriptor{ResourceType: parts[0], Filename: parts[1]}
	switch source := parts[2]; {
	case strings.HasPrefix(source, "download:"):
		d.DownloadID = strings.TrimPrefix(source, "download:")
		if d.DownloadID == "" {
			return upload.Descriptor{}, fmt.Errorf("invalid file %q: empty download ID", arg)
		}
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		d.SourceURL = source
	default:
		return upload.Descriptor{}, fmt.Errorf("invalid file %q: source must be a URL or download:ID", arg)
	}
	return d, nil
}

func openArchive(c *cli.Context) (upload.Archive, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	client, err := backend.New(cfg.BackendClient())
	if err != nil {
		return nil, err
	}
	source := archive.NewSource(&http.Client{Timeout: cfg.ADRClient().Timeout}, client)
	return archive.Open(cfg.ArchiveBackend(), source)
}

// commandContext is cancelled on SIGINT or SIGTERM, and after timeout when it
// is positive.
func commandContext(c *cli.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
