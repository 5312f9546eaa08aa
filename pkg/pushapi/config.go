package pushapi

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultPlatform is the host serving the Push API.
	DefaultPlatform = "push.cloud.coveo.com"

	// DefaultStreamHost is the host serving the Stream API.
	DefaultStreamHost = "api.cloud.coveo.com"

	// MaxUploadSize is the largest body the file container storage accepts.
	MaxUploadSize = 256 * 1024 * 1024
)

// Config contains configuration for the Push API client.
type Config struct {
	// PushBaseURL is the scheme and host of the Push API, for example
	// "https://push.cloud.coveo.com".
	PushBaseURL string

	// StreamBaseURL is the base of the Stream API, for example
	// "https://api.cloud.coveo.com/push".
	StreamBaseURL string

	OrganizationID string
	SourceID       string

	// APIKey is sent as a Bearer token on every platform request.
	APIKey string

	// Timeout for a single HTTP request.
	// Default: 5 minutes
	Timeout time.Duration

	// MaxRetries is the number of retries for idempotent control calls
	// (status changes, deletes, stream close). Uploads and batch commits are
	// never retried.
	// Default: 0
	MaxRetries int

	// RetryInterval is the initial backoff between retries.
	// Default: 500 milliseconds
	RetryInterval time.Duration

	// UploadLimit is the largest body Upload will send.
	// Default: MaxUploadSize
	UploadLimit int

	HTTPClient *http.Client
	Logger     hclog.Logger
}

// BaseURLs derives the Push and Stream base URLs from host names.
func BaseURLs(platform, streamHost string) (push, stream string) {
	if platform == "" {
		platform = DefaultPlatform
	}
	if streamHost == "" {
		streamHost = DefaultStreamHost
	}
	return "https://" + platform, "https://" + streamHost + "/push"
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"push base URL":   c.PushBaseURL,
		"stream base URL": c.StreamBaseURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s must use http or https scheme, got: %s", name, u.Scheme)
		}
	}

	if c.OrganizationID == "" {
		return fmt.Errorf("organization ID is required")
	}
	if c.SourceID == "" {
		return fmt.Errorf("source ID is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.UploadLimit < 0 || c.UploadLimit > MaxUploadSize {
		return fmt.Errorf("upload limit must be between 0 and %d, got: %d", MaxUploadSize, c.UploadLimit)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got: %d", c.MaxRetries)
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	if c.UploadLimit == 0 {
		c.UploadLimit = MaxUploadSize
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
}
