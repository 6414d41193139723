package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-resumable/download"
	"github.com/docker/go-units"
)

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	baseURL := fs.String("url", "", "Base URL objects are addressed under (overrides config)")
	id := fs.String("id", "", "Resource ID (required)")
	output := fs.String("output", "", "Output file path, '-' for stdout (required)")
	byteRange := fs.String("range", "", "Byte range to read, e.g. 0-1023 or 1024-")
	decompress := fs.Bool("decompress", false, "Decode a zstd compressed object while reading")
	showProgress := fs.Bool("progress", false, "Log download progress")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: transfer download [options]

Download an object. Whole objects written to a file use parallel range requests;
byte ranges and decompressed objects are streamed.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *id == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -id and -output are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	var r *download.ByteRange
	if *byteRange != "" {
		parsed, err := parseByteRange(*byteRange)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid range: %v\n", err)
			return ExitInvalidArgs
		}
		r = &parsed
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	client, code := a.downloadClient(*baseURL, *showProgress)
	if client == nil {
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()

	if r == nil && !*decompress && *output != "-" {
		if err := client.ToFile(ctx, *id, *output); err != nil {
			a.logger.Errorf("Failed to download %s: %s", *id, err)
			return exitCode(err)
		}
		return ExitSuccess
	}

	body, err := client.Stream(ctx, *id, r)
	if err != nil {
		a.logger.Errorf("Failed to download %s: %s", *id, err)
		return exitCode(err)
	}
	if *decompress {
		if body, err = download.Decompress(body); err != nil {
			a.logger.Errorf("Failed to decompress %s: %s", *id, err)
			return ExitTransferFailed
		}
	}

	if err := a.writeOutput(*output, body); err != nil {
		a.logger.Errorf("Failed to write %s: %s", *output, err)
		return ExitGeneralError
	}
	return ExitSuccess
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	baseURL := fs.String("url", "", "Base URL objects are addressed under (overrides config)")
	id := fs.String("id", "", "Resource ID (required)")
	mimeType := fs.String("mime-type", "", "Target format (required)")
	output := fs.String("output", "-", "Output file path, '-' for stdout")
	list := fs.Bool("list", false, "List the supported export formats and exit")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: transfer export [options]

Export a document in another format. Exports are capped by max_export_size;
larger documents must be downloaded instead.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *list {
		for _, format := range download.ExportFormats() {
			fmt.Println(format)
		}
		return ExitSuccess
	}
	if *id == "" || *mimeType == "" {
		fmt.Fprintln(os.Stderr, "Error: -id and -mime-type are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	client, code := a.downloadClient(*baseURL, false)
	if client == nil {
		return code
	}

	ctx, cancel := signalContext()
	defer cancel()

	body, err := client.ExportStream(ctx, *id, *mimeType)
	if err != nil {
		a.logger.Errorf("Failed to export %s: %s", *id, err)
		return exitCode(err)
	}

	if err := a.writeOutput(*output, body); err != nil {
		a.logger.Errorf("Failed to export %s: %s", *id, err)
		return exitCode(err)
	}
	return ExitSuccess
}

func (a *app) downloadClient(baseURL string, showProgress bool) (*download.Client, int) {
	if baseURL != "" {
		a.cfg.DownloadURL = baseURL
	}
	if a.cfg.DownloadURL == "" {
		fmt.Fprintln(os.Stderr, "Error: a download URL is required (-url, download_url or RESUMABLE_DOWNLOAD_URL)")
		return nil, ExitInvalidArgs
	}

	opts := a.cfg.DownloadOptions()
	opts.Logger = a.logger
	if showProgress {
		opts.Progress = a.logProgress
	}

	return download.NewClient(a.downloadExecutor(), a.cfg.DownloadURL, opts), ExitSuccess
}

func (a *app) logProgress(read, total int64) {
	if total < 0 {
		a.logger.Printf("Downloaded %s", units.BytesSize(float64(read)))
		return
	}
	a.logger.Printf("Downloaded %s of %s", units.BytesSize(float64(read)), units.BytesSize(float64(total)))
}

// writeOutput copies body to the output path or stdout and closes body.
func (a *app) writeOutput(output string, body io.ReadCloser) (err error) {
	defer func() {
		if cerr := body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if output == "-" {
		_, err = io.Copy(os.Stdout, body)
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	n, err := io.Copy(f, body)
	if err != nil {
		return err
	}
	a.logger.Donef("Wrote %s to %s", units.BytesSize(float64(n)), output)
	return nil
}

// parseByteRange parses "start-end" and the open-ended "start-".
func parseByteRange(s string) (download.ByteRange, error) {
	first, last, ok := strings.Cut(s, "-")
	if !ok {
		return download.ByteRange{}, errors.New("expected start-end")
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return download.ByteRange{}, fmt.Errorf("invalid start %q", first)
	}
	if last == "" {
		return download.ByteRange{Start: start, End: -1}, nil
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return download.ByteRange{}, fmt.Errorf("invalid end %q", last)
	}
	return download.ByteRange{Start: start, End: end}, nil
}
