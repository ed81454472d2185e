// Command transrapport is a thin CLI adapter over pkg/transrapport's
// programmatic contract (spec §1: "the CLI is a thin adapter over it").
// It owns nothing the engine doesn't already expose: flag parsing, an
// os.Exit code per spec §6.5, and printing JSON results to stdout. All
// engine logging (internal/*) goes to stderr via slog; the engine itself
// "never prints to standard output" (spec §7) — only this adapter does.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/pkg/transrapport"
)

// Exit codes per spec §6.5.
const (
	exitSuccess          = 0
	exitUnexpected       = 1
	exitValidationFailed = 2
	exitJobNotFound      = 3
	exitStorageError     = 4
	exitCancelled        = 5
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "transrapport",
		Usage: "local, offline conversational marker engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: "./transrapport-data", EnvVars: []string{"TRANSRAPPORT_ROOT"}, Usage: "engine root directory (markers/, runtime/, exports/)"},
		},
		Commands: []*cli.Command{
			loadCommand(),
			validateCommand(),
			jobCreateCommand(),
			runCommand(),
			viewCommand(),
			exportCommand(),
			clearCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the closed error taxonomy (spec §7) onto spec §6.5's
// exit codes.
func exitCodeFor(err error) int {
	var exitCoder cli.ExitCoder
	var valErr *engineerr.ValidationError
	var storageErr *engineerr.StorageError
	var cancelErr *engineerr.CancelledError
	switch {
	case errors.As(err, &exitCoder):
		return exitCoder.ExitCode()
	case errors.As(err, &cancelErr):
		return exitCancelled
	case errors.As(err, &valErr):
		return exitValidationFailed
	case errors.As(err, &storageErr):
		if storageErr.Kind == engineerr.StorageNotFound {
			return exitJobNotFound
		}
		return exitStorageError
	default:
		return exitUnexpected
	}
}

func openEngine(c *cli.Context) (*transrapport.Engine, error) {
	return transrapport.Open(c.String("root"), slog.Default())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadCommand() *cli.Command {
	return &cli.Command{
		Name:  "load",
		Usage: "markers.load: load declarative marker definitions from a directory tree",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "markers-dir", Required: true, Usage: "directory with atomic/ semantic/ cluster/ meta/ subdirectories"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.Load(c.String("markers-dir"))
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if len(res.Errors) > 0 {
				return cli.Exit("markers.load reported errors", exitValidationFailed)
			}
			return nil
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "markers.validate: strictly re-validate the currently loaded catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "markers-dir", Required: true},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.Load(c.String("markers-dir")); err != nil {
				return err
			}
			res, err := e.Validate(true)
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.OK {
				return cli.Exit("validation failed", exitValidationFailed)
			}
			return nil
		},
	}
}

func jobCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "job-create",
		Usage: "job.create: register a new conversation job",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conv", Required: true},
			&cli.StringFlag{Name: "source-kind", Value: "text"},
			&cli.StringFlag{Name: "source-path", Required: true},
			&cli.IntFlag{Name: "chunksize", Value: 0},
			&cli.IntFlag{Name: "overlap", Value: 0},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.CreateJob(c.String("conv"), c.String("source-kind"), c.String("source-path"), c.Int("chunksize"), c.Int("overlap"))
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run.scan: execute the ATO->SEM->CLU->MEMA pipeline for a conv",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conv", Required: true},
			&cli.StringFlag{Name: "markers-dir", Required: true},
			&cli.StringFlag{Name: "window-sem", Value: ""},
			&cli.StringFlag{Name: "window-clu", Value: ""},
			&cli.IntFlag{Name: "batch-size", Value: 0},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := e.Load(c.String("markers-dir")); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := e.Run(ctx, c.String("conv"), transrapport.Overrides{
				WindowSEM: c.String("window-sem"),
				WindowCLU: c.String("window-clu"),
				BatchSize: c.Int("batch-size"),
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "view.events: read back stored events for a conv at one level",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conv", Required: true},
			&cli.StringFlag{Name: "level", Required: true, Usage: "ato|sem|clu|mema"},
			&cli.IntFlag{Name: "last", Value: 0},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.ViewEvents(c.String("conv"), c.String("level"), c.Int("last"))
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "export.events: dump a conv's events at one level (or all) as JSONL+CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conv", Required: true},
			&cli.StringFlag{Name: "level", Value: "all", Usage: "ato|sem|clu|mema|all"},
			&cli.StringFlag{Name: "out-dir", Usage: "defaults to <root>/exports/<conv>"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			outDir := c.String("out-dir")
			if outDir == "" {
				outDir = fmt.Sprintf("%s/exports/%s", c.String("root"), c.String("conv"))
			}
			res, err := e.ExportEvents(c.String("conv"), c.String("level"), outDir)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "runtime.clear: wipe all runtime events for a conv",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conv", Required: true},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.ClearRuntime(c.String("conv"))
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}
