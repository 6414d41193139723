package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/bitrise-io/go-resumable/resumable"
	"github.com/bitrise-io/go-resumable/resumable/source"
	"github.com/bitrise-io/go-resumable/transport"
	"github.com/docker/go-units"
)

// uploadResult is the outcome of one file's upload.
type uploadResult struct {
	Path     string
	Session  string
	Resource *resumable.Resource
	Err      error
}

func runUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to a YAML config file")
	uploadURL := fs.String("url", "", "Session initiation URL (overrides config)")
	contentType := fs.String("content-type", "", "Content type of the uploaded files (default: detected from the extension)")
	parallel := fs.Int("parallel", 4, "Number of files uploaded in parallel")
	s3Bucket := fs.String("s3-bucket", "", "Upload an S3 object from this bucket instead of local files")
	s3Key := fs.String("s3-key", "", "Key of the S3 object")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: transfer upload [options] <path or glob>...

Upload files through resumable sessions. Each file gets its own session; the session
URL is printed so an interrupted upload can be continued with 'transfer resume'.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	if *uploadURL != "" {
		a.cfg.UploadURL = *uploadURL
	}
	if a.cfg.UploadURL == "" {
		fmt.Fprintln(os.Stderr, "Error: an upload URL is required (-url, upload_url or RESUMABLE_UPLOAD_URL)")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *s3Bucket != "" {
		if *s3Key == "" {
			fmt.Fprintln(os.Stderr, "Error: -s3-key is required with -s3-bucket")
			return ExitInvalidArgs
		}
		return a.uploadS3Object(ctx, *s3Bucket, *s3Key, *contentType)
	}

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one path is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	paths := newPathEvaluator(a.logger).evaluate(fs.Args())
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no files to upload")
		return ExitSourceError
	}

	results := a.uploadFiles(ctx, paths, *contentType, *parallel)

	code := ExitSuccess
	for _, result := range results {
		if result.Err != nil {
			a.logger.Errorf("Failed to upload %s: %s", result.Path, result.Err)
			if result.Session != "" {
				a.logger.Printf("Resume with: transfer resume -session %s -file %s", result.Session, result.Path)
			}
			code = exitCode(result.Err)
			continue
		}
		fmt.Printf("%s\t%s\n", result.Resource.ID, result.Path)
	}

	return code
}

// uploadFiles uploads every path in its own session, at most parallel at a time.
func (a *app) uploadFiles(ctx context.Context, paths []string, contentType string, parallel int) []uploadResult {
	if parallel <= 0 {
		parallel = 1
	}

	exec := a.uploadExecutor()
	resultChan := make(chan uploadResult, len(paths))
	semaphore := make(chan struct{}, parallel)

	for _, path := range paths {
		go func(path string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			resultChan <- a.uploadFile(ctx, exec, path, contentType)
		}(path)
	}

	results := make([]uploadResult, 0, len(paths))
	for range paths {
		results = append(results, <-resultChan)
	}

	return results
}

func (a *app) uploadFile(ctx context.Context, exec *transport.Executor, path, contentType string) uploadResult {
	result := uploadResult{Path: path}

	file, err := source.FromFile(path, source.DefaultBufferSize)
	if err != nil {
		result.Err = err
		return result
	}
	defer func() {
		if err := file.Close(); err != nil {
			a.logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	if contentType == "" {
		contentType = detectContentType(path)
	}

	session, err := resumable.Initiate(ctx, exec, resumable.InitiateRequest{
		URL:         a.cfg.UploadURL,
		Metadata:    map[string]string{"name": filepath.Base(path), "mimeType": contentType},
		TotalSize:   file.Size(),
		ContentType: contentType,
	}, a.sessionOptions(exec))
	if err != nil {
		result.Err = err
		return result
	}
	defer session.WaitForTracker()
	result.Session = session.Endpoint

	a.logger.Infof("Uploading %s (%s)", path, units.BytesSize(float64(file.Size())))

	resource, err := session.UploadStream(ctx, file)
	if err != nil {
		result.Err = err
		return result
	}
	result.Resource = resource

	return result
}

func (a *app) uploadS3Object(ctx context.Context, bucket, key, contentType string) int {
	client, err := source.NewS3Client(ctx, a.cfg.S3Params(), a.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating S3 client: %v\n", err)
		return ExitSourceError
	}

	object, err := source.FromS3(ctx, client, bucket, key, source.DefaultBufferSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening s3://%s/%s: %v\n", bucket, key, err)
		return ExitSourceError
	}
	defer func() {
		if err := object.Close(); err != nil {
			a.logger.Warnf("Failed to close S3 object: %s", err)
		}
	}()

	if contentType == "" {
		contentType = object.ContentType()
	}
	if contentType == "" {
		contentType = detectContentType(key)
	}

	exec := a.uploadExecutor()
	session, err := resumable.Initiate(ctx, exec, resumable.InitiateRequest{
		URL:         a.cfg.UploadURL,
		Metadata:    map[string]string{"name": filepath.Base(key), "mimeType": contentType},
		TotalSize:   object.Size(),
		ContentType: contentType,
	}, a.sessionOptions(exec))
	if err != nil {
		a.logger.Errorf("Failed to initiate upload: %s", err)
		return exitCode(err)
	}
	defer session.WaitForTracker()

	start := time.Now()
	resource, err := session.UploadStream(ctx, object)
	if err != nil {
		a.logger.Errorf("Failed to upload s3://%s/%s: %s", bucket, key, err)
		// An S3 body cannot be rewound, so an unfinished session is abandoned.
		session.Cancel(context.Background())
		return exitCode(err)
	}

	a.logger.Debugf("Upload of s3://%s/%s took %s", bucket, key, time.Since(start).Round(time.Millisecond))
	fmt.Printf("%s\ts3://%s/%s\n", resource.ID, bucket, key)

	return ExitSuccess
}

func detectContentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
