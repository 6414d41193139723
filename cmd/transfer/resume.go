package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bitrise-io/go-resumable/resumable"
	"github.com/bitrise-io/go-resumable/resumable/source"
)

func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	sessionURL := fs.String("session", "", "Upload session URL (required)")
	path := fs.String("file", "", "The file the session was started for (required)")
	contentType := fs.String("content-type", "", "Content type of the file (default: detected from the extension)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: transfer resume [options]

Ask the server how many bytes of the session it holds and upload the rest of the file.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *sessionURL == "" || *path == "" {
		fmt.Fprintln(os.Stderr, "Error: -session and -file are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	file, err := source.FromFile(*path, source.DefaultBufferSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		return ExitSourceError
	}
	defer func() {
		if err := file.Close(); err != nil {
			a.logger.Warnf("Failed to close %s: %s", *path, err)
		}
	}()

	if *contentType == "" {
		*contentType = detectContentType(*path)
	}

	exec := a.uploadExecutor()
	session, err := resumable.NewSession(*sessionURL, file.Size(), *contentType, a.sessionOptions(exec))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	defer session.WaitForTracker()

	status, err := session.Resume(ctx)
	if err != nil {
		a.logger.Errorf("Failed to query upload status: %s", err)
		return exitCode(err)
	}
	if status.Complete {
		fmt.Printf("%s\t%s\n", status.Resource.ID, *path)
		return ExitSuccess
	}

	resource, err := session.UploadStream(ctx, file)
	if err != nil {
		a.logger.Errorf("Failed to upload %s: %s", *path, err)
		return exitCode(err)
	}

	fmt.Printf("%s\t%s\n", resource.ID, *path)
	return ExitSuccess
}

func runCancel(args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	sessionURL := fs.String("session", "", "Upload session URL (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: transfer cancel [options]

Abandon an upload session. Cancelling never fails; problems are logged.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *sessionURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -session is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	exec := a.uploadExecutor()
	session, err := resumable.NewSession(*sessionURL, 0, "", a.sessionOptions(exec))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	session.Cancel(ctx)
	session.WaitForTracker()

	return ExitSuccess
}
