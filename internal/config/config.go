// Package config loads and validates the push source configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/pushapi/pkg/pushapi"
)

const (
	// DefaultFileName is the name of the configuration file looked up in the
	// working directory.
	DefaultFileName = ".pushapi-config.json"

	// DefaultTimeout is the per-request timeout used when none is configured.
	DefaultTimeout = 5 * time.Minute
)

// Placeholder values written by templates. A field still holding one of them
// is treated as missing.
const (
	PlaceholderAPIKey = "xx--your-api-key--abc"
	PlaceholderOrg    = "your-org-id"
	PlaceholderSource = "your-source-id"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the push source configuration.
type Config struct {
	Platform     string `hcl:"platform,optional" json:"platform,omitempty"`
	Org          string `hcl:"org,optional" json:"org"`
	Source       string `hcl:"source,optional" json:"source"`
	APIKey       string `hcl:"apiKey,optional" json:"apiKey"`
	UseStreamAPI bool   `hcl:"useStreamApi,optional" json:"useStreamApi,omitempty"`
	Debug        bool   `hcl:"debug,optional" json:"debug,omitempty"`

	// StreamHost serves the Stream API. Default: api.cloud.coveo.com
	StreamHost string `hcl:"streamHost,optional" json:"streamHost,omitempty"`

	// Timeout is a Go duration string. Default: 5m
	Timeout string `hcl:"timeout,optional" json:"timeout,omitempty"`

	// MaxRetries applies to status changes, deletes and stream close only.
	MaxRetries int `hcl:"maxRetries,optional" json:"maxRetries,omitempty"`

	// Remain keeps unknown keys from failing the decode.
	Remain hcl.Body `hcl:",remain" json:"-"`
}

// Load reads, decodes and validates the configuration file at path, then
// applies env overrides. env may be nil.
func Load(fsys afero.Fs, path string, env map[string]string) (*Config, error) {
	src, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Code: ExitConfigUnreadable, Msg: fmt.Sprintf("couldn't load %s", path)}
		}
		return nil, &Error{Code: ExitConfigUnreadable, Msg: fmt.Sprintf("couldn't read %s: %v", path, err)}
	}

	trimmed := bytes.TrimSpace(src)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &Error{Code: ExitConfigEmpty, Msg: fmt.Sprintf("missing config (%s)", filepath.Base(path))}
	}

	var cfg Config
	// hclsimple picks the JSON syntax from the file extension.
	name := path
	if filepath.Ext(name) != ".json" {
		name += ".json"
	}
	if err := hclsimple.Decode(name, src, nil, &cfg); err != nil {
		return nil, &Error{Code: ExitConfigUnreadable, Msg: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}

	cfg.ApplyEnv(env)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults fills in optional fields.
func (c *Config) SetDefaults() {
	if c.Platform == "" {
		c.Platform = pushapi.DefaultPlatform
	}
	if c.StreamHost == "" {
		c.StreamHost = pushapi.DefaultStreamHost
	}
}

// Validate checks the required credentials first, in the order apiKey, org,
// source, so the exit code names the first missing one. Optional fields are
// checked after.
func (c *Config) Validate() error {
	required := []struct {
		field       string
		value       string
		placeholder string
		code        int
	}{
		{"apiKey", c.APIKey, PlaceholderAPIKey, ExitMissingAPIKey},
		{"org", c.Org, PlaceholderOrg, ExitMissingOrg},
		{"source", c.Source, PlaceholderSource, ExitMissingSource},
	}
	for _, r := range required {
		err := validation.Validate(r.value,
			validation.Required.Error("is missing"),
			validation.NotIn(r.placeholder).Error("still holds the placeholder value"),
		)
		if err != nil {
			return &Error{Code: r.code, Field: r.field, Msg: err.Error()}
		}
	}

	err := validation.ValidateStruct(c,
		validation.Field(&c.Platform, is.Host),
		validation.Field(&c.StreamHost, is.Host),
		validation.Field(&c.Timeout, validation.By(isDuration)),
		validation.Field(&c.MaxRetries, validation.Min(0)),
	)
	if err != nil {
		return &Error{Code: ExitConfigUnreadable, Msg: err.Error()}
	}

	return nil
}

func isDuration(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.New("must be a duration such as 30s or 5m")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// RequestTimeout returns the configured per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return DefaultTimeout
}

// LogLevel returns the log level the configuration asks for.
func (c *Config) LogLevel() hclog.Level {
	if c.Debug {
		return hclog.Debug
	}
	return hclog.Info
}

// ClientConfig builds the Push API client configuration.
func (c *Config) ClientConfig(logger hclog.Logger) *pushapi.Config {
	push, stream := pushapi.BaseURLs(c.Platform, c.StreamHost)
	return &pushapi.Config{
		PushBaseURL:    push,
		StreamBaseURL:  stream,
		OrganizationID: c.Org,
		SourceID:       c.Source,
		APIKey:         c.APIKey,
		Timeout:        c.RequestTimeout(),
		MaxRetries:     c.MaxRetries,
		Logger:         logger,
	}
}

// Save writes c to path, readable by the owner only.
func Save(fsys afero.Fs, path string, c *Config) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	if err := afero.WriteFile(fsys, path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := fsys.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to restrict permissions on %s: %w", path, err)
	}
	return nil
}
