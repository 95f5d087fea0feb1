// reportctl prepares report artifacts and uploads files to the archive from
// the command line, without running the service.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "reportctl",
		Usage: "Prepare report downloads and upload them to the data archive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to YAML config file",
				EnvVars: []string{"REPORTSYNC_CONFIG"},
			},
		},
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			prepareCommand(),
			fetchCommand(),
			resourcesCommand(),
			uploadCommand(),
		},
	}
}

// exitErrHandler prints errors and preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
