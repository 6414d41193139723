// Package config loads the transfer configuration from defaults, a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/bitrise-io/go-resumable/download"
	"github.com/bitrise-io/go-resumable/resumable"
	"github.com/bitrise-io/go-resumable/resumable/source"
	"github.com/bitrise-io/go-resumable/transport"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Secret is a string value that is redacted when printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Config defines configuration for uploads and downloads.
type Config struct {
	// UploadURL is the session initiation endpoint.
	UploadURL string `yaml:"upload_url"`
	// DownloadURL is the base URL objects are addressed under by resource ID.
	DownloadURL string `yaml:"download_url"`
	Token       Secret `yaml:"token"`

	ChunkSize      int64         `yaml:"chunk_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffUnit    time.Duration `yaml:"backoff_unit"`
	ChunkTimeout   time.Duration `yaml:"chunk_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// BandwidthLimit is in bytes per second, 0 means unlimited.
	BandwidthLimit int64 `yaml:"bandwidth_limit"`

	MaxExportSize       int64 `yaml:"max_export_size"`
	DownloadConcurrency uint  `yaml:"download_concurrency"`
	// TransportRetries is the number of transport level retries of download requests.
	TransportRetries int `yaml:"transport_retries"`

	S3    S3Config `yaml:"s3"`
	Debug bool     `yaml:"debug"`
	// Analytics enables upload analytics events.
	Analytics bool `yaml:"analytics"`
}

// S3Config configures the S3 upload source.
type S3Config struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey Secret `yaml:"secret_access_key"`
}

// Default returns a Config with the default limits.
func Default() Config {
	def := resumable.DefaultConfig()
	return Config{
		ChunkSize:        def.ChunkSize,
		MaxAttempts:      def.MaxAttempts,
		BackoffUnit:      def.BackoffUnit,
		ChunkTimeout:     def.ChunkTimeout,
		RequestTimeout:   def.RequestTimeout,
		MaxExportSize:    download.DefaultMaxExportSize,
		TransportRetries: 3,
		Analytics:        true,
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	UploadURL           string       `yaml:"upload_url"`
	DownloadURL         string       `yaml:"download_url"`
	Token               string       `yaml:"token"`
	ChunkSize           string       `yaml:"chunk_size"`
	MaxAttempts         int          `yaml:"max_attempts"`
	BackoffUnit         string       `yaml:"backoff_unit"`
	ChunkTimeout        string       `yaml:"chunk_timeout"`
	RequestTimeout      string       `yaml:"request_timeout"`
	BandwidthLimit      string       `yaml:"bandwidth_limit"`
	MaxExportSize       string       `yaml:"max_export_size"`
	DownloadConcurrency uint         `yaml:"download_concurrency"`
	TransportRetries    *int         `yaml:"transport_retries"`
	S3                  yamlS3Config `yaml:"s3"`
	Debug               bool         `yaml:"debug"`
	Analytics           *bool        `yaml:"analytics"`
}

type yamlS3Config struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.UploadURL != "" {
		cfg.UploadURL = yc.UploadURL
	}
	if yc.DownloadURL != "" {
		cfg.DownloadURL = yc.DownloadURL
	}
	if yc.Token != "" {
		cfg.Token = Secret(yc.Token)
	}
	if err := setSize(&cfg.ChunkSize, yc.ChunkSize, "chunk_size"); err != nil {
		return Config{}, err
	}
	if yc.MaxAttempts != 0 {
		cfg.MaxAttempts = yc.MaxAttempts
	}
	if err := setDuration(&cfg.BackoffUnit, yc.BackoffUnit, "backoff_unit"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.ChunkTimeout, yc.ChunkTimeout, "chunk_timeout"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.RequestTimeout, yc.RequestTimeout, "request_timeout"); err != nil {
		return Config{}, err
	}
	if err := setSize(&cfg.BandwidthLimit, yc.BandwidthLimit, "bandwidth_limit"); err != nil {
		return Config{}, err
	}
	if err := setSize(&cfg.MaxExportSize, yc.MaxExportSize, "max_export_size"); err != nil {
		return Config{}, err
	}
	if yc.DownloadConcurrency != 0 {
		cfg.DownloadConcurrency = yc.DownloadConcurrency
	}
	if yc.TransportRetries != nil {
		cfg.TransportRetries = *yc.TransportRetries
	}
	cfg.S3 = S3Config{
		Region:          yc.S3.Region,
		AccessKeyID:     yc.S3.AccessKeyID,
		SecretAccessKey: Secret(yc.S3.SecretAccessKey),
	}
	cfg.Debug = yc.Debug
	if yc.Analytics != nil {
		cfg.Analytics = *yc.Analytics
	}

	return cfg, nil
}

// ApplyEnv overrides the configuration with RESUMABLE_ prefixed environment variables.
func (c *Config) ApplyEnv(envRepo env.Repository) error {
	if v := envRepo.Get("RESUMABLE_UPLOAD_URL"); v != "" {
		c.UploadURL = v
	}
	if v := envRepo.Get("RESUMABLE_DOWNLOAD_URL"); v != "" {
		c.DownloadURL = v
	}
	if v := envRepo.Get("RESUMABLE_TOKEN"); v != "" {
		c.Token = Secret(v)
	}
	if err := setSize(&c.ChunkSize, envRepo.Get("RESUMABLE_CHUNK_SIZE"), "RESUMABLE_CHUNK_SIZE"); err != nil {
		return err
	}
	if v := envRepo.Get("RESUMABLE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RESUMABLE_MAX_ATTEMPTS: %w", err)
		}
		c.MaxAttempts = n
	}
	if err := setDuration(&c.BackoffUnit, envRepo.Get("RESUMABLE_BACKOFF_UNIT"), "RESUMABLE_BACKOFF_UNIT"); err != nil {
		return err
	}
	if err := setDuration(&c.ChunkTimeout, envRepo.Get("RESUMABLE_CHUNK_TIMEOUT"), "RESUMABLE_CHUNK_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.RequestTimeout, envRepo.Get("RESUMABLE_REQUEST_TIMEOUT"), "RESUMABLE_REQUEST_TIMEOUT"); err != nil {
		return err
	}
	if err := setSize(&c.BandwidthLimit, envRepo.Get("RESUMABLE_BANDWIDTH_LIMIT"), "RESUMABLE_BANDWIDTH_LIMIT"); err != nil {
		return err
	}
	if err := setSize(&c.MaxExportSize, envRepo.Get("RESUMABLE_MAX_EXPORT_SIZE"), "RESUMABLE_MAX_EXPORT_SIZE"); err != nil {
		return err
	}
	if v := envRepo.Get("RESUMABLE_DOWNLOAD_CONCURRENCY"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("parse RESUMABLE_DOWNLOAD_CONCURRENCY: %w", err)
		}
		c.DownloadConcurrency = uint(n)
	}
	if v := envRepo.Get("RESUMABLE_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := envRepo.Get("AWS_ACCESS_KEY_ID"); v != "" {
		c.S3.AccessKeyID = v
	}
	if v := envRepo.Get("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.S3.SecretAccessKey = Secret(v)
	}
	if v := envRepo.Get("RESUMABLE_DEBUG"); v != "" {
		c.Debug = v == "true" || v == "1"
	}
	if v := envRepo.Get("RESUMABLE_ANALYTICS"); v != "" {
		c.Analytics = v == "true" || v == "1"
	}

	return nil
}

// Validate checks the limits. Endpoints are checked by the commands that need them.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk size must be positive")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("config: max attempts must be positive")
	}
	if c.BandwidthLimit < 0 {
		return errors.New("config: bandwidth limit must not be negative")
	}
	if c.MaxExportSize <= 0 {
		return errors.New("config: max export size must be positive")
	}
	return nil
}

// SessionConfig converts the upload settings. The chunk size is rounded up to the chunk alignment.
func (c Config) SessionConfig() resumable.Config {
	return resumable.Config{
		ChunkSize:      resumable.NormalizeChunkSize(c.ChunkSize),
		MaxAttempts:    c.MaxAttempts,
		BackoffUnit:    c.BackoffUnit,
		ChunkTimeout:   c.ChunkTimeout,
		RequestTimeout: c.RequestTimeout,
		BytesPerSecond: c.BandwidthLimit,
	}
}

// DownloadOptions converts the download settings.
func (c Config) DownloadOptions() download.Options {
	return download.Options{
		MaxExportSize: c.MaxExportSize,
		Concurrency:   c.DownloadConcurrency,
	}
}

// Header returns the static request headers, the bearer token if one is set.
func (c Config) Header() http.Header {
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+string(c.Token))
	}
	return header
}

// UploadTransportOptions returns transport options for upload sessions.
// Session requests are never retried by the transport.
func (c Config) UploadTransportOptions() transport.Options {
	return transport.Options{Header: c.Header()}
}

// DownloadTransportOptions returns transport options for downloads and exports.
func (c Config) DownloadTransportOptions() transport.Options {
	return transport.Options{MaxRetries: c.TransportRetries, Header: c.Header()}
}

// S3Params converts the S3 settings.
func (c Config) S3Params() source.S3Params {
	return source.S3Params{
		Region:          c.S3.Region,
		AccessKeyID:     c.S3.AccessKeyID,
		SecretAccessKey: string(c.S3.SecretAccessKey),
	}
}

func setSize(dst *int64, value, name string) error {
	if value == "" {
		return nil
	}
	size, err := units.RAMInBytes(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = size
	return nil
}

func setDuration(dst *time.Duration, value, name string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}
