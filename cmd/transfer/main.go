package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-resumable/config"
	"github.com/bitrise-io/go-resumable/resumable"
	"github.com/bitrise-io/go-resumable/transport"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitSourceError    = 3
	ExitSessionExpired = 4
	ExitTransferFailed = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "upload":
		return runUpload(cmdArgs)
	case "resume":
		return runResume(cmdArgs)
	case "cancel":
		return runCancel(cmdArgs)
	case "download":
		return runDownload(cmdArgs)
	case "export":
		return runExport(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: transfer <command> [options]

Commands:
  upload    Upload local files or an S3 object through resumable sessions
  resume    Continue an interrupted upload session from the last confirmed byte
  cancel    Abandon an upload session
  download  Download an object, a byte range of it, or a zstd compressed archive
  export    Export a document in another format

Configuration is read from -config (YAML) and RESUMABLE_* environment variables.
Run 'transfer <command> -h' for command-specific help.`)
}

// app holds what every command needs once the configuration is loaded.
type app struct {
	cfg     config.Config
	envRepo env.Repository
	logger  log.Logger
}

func newApp(configPath string) (*app, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}

	envRepo := env.NewRepository()
	if err := cfg.ApplyEnv(envRepo); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.NewLogger()
	logger.EnableDebugLog(cfg.Debug)

	return &app{cfg: cfg, envRepo: envRepo, logger: logger}, nil
}

func (a *app) uploadExecutor() *transport.Executor {
	return transport.NewExecutor(transport.NewHTTPTransport(a.cfg.UploadTransportOptions(), a.logger), a.logger)
}

func (a *app) downloadExecutor() *transport.Executor {
	return transport.NewExecutor(transport.NewHTTPTransport(a.cfg.DownloadTransportOptions(), a.logger), a.logger)
}

func (a *app) sessionOptions(exec *transport.Executor) resumable.Options {
	opts := resumable.Options{
		Config:    a.cfg.SessionConfig(),
		Transport: exec.Transport(),
		Logger:    a.logger,
	}
	if a.cfg.Analytics {
		opts.Tracker = resumable.NewDefaultTracker(a.logger, analytics.Properties{"command": "transfer"})
	}
	return opts
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// exitCode maps a transfer error to the process exit code.
func exitCode(err error) int {
	if errors.Is(err, transport.ErrSessionExpired) {
		return ExitSessionExpired
	}
	return ExitTransferFailed
}
