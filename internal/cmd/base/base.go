// Package base holds what every pushapi command shares: the UI, the logger,
// the filesystem and config loading.
package base

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/afero"

	"github.com/hashicorp-forge/pushapi/internal/config"
	"github.com/hashicorp-forge/pushapi/pkg/pushapi"
)

// ExitRunError is returned when a run fails after it started.
const ExitRunError = 10

type Command struct {
	Log hclog.Logger
	UI  cli.Ui
	Fs  afero.Fs

	// ConfigureClient, when set, adjusts the client configuration before the
	// client is created.
	ConfigureClient func(*pushapi.Config)
}

// NewCommand returns a new instance of a base.Command type.
func NewCommand(log hclog.Logger, ui cli.Ui) *Command {
	return &Command{
		Log: log,
		UI:  ui,
		Fs:  afero.NewOsFs(),
	}
}

// LoadConfig loads the configuration file at path with overrides from the
// dotenv file at envPath and the process environment. On failure the error
// is reported on the UI and the exit code for it is returned.
func (c *Command) LoadConfig(path, envPath string) (*config.Config, int) {
	env, err := config.Environment(c.Fs, envPath)
	if err != nil {
		c.UI.Error(err.Error())
		return nil, config.ExitConfigUnreadable
	}

	cfg, err := config.Load(c.Fs, path, env)
	if err != nil {
		c.UI.Error(err.Error())

		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			if cfgErr.Code == config.ExitConfigUnreadable && cfgErr.Field == "" {
				if _, statErr := c.Fs.Stat(path); statErr != nil {
					c.UI.Info(fmt.Sprintf("Run \"pushapi init\" to create %s.", path))
				}
			}
			return nil, cfgErr.Code
		}
		return nil, config.ExitConfigUnreadable
	}

	if cfg.Debug {
		c.Log.SetLevel(hclog.Debug)
	}
	c.Log.Debug("config loaded",
		"path", path,
		"platform", cfg.Platform,
		"org", cfg.Org,
		"source", cfg.Source,
		"stream", cfg.UseStreamAPI,
	)

	return cfg, 0
}

// NewClient creates a Push API client for cfg.
func (c *Command) NewClient(cfg *config.Config) (*pushapi.Client, error) {
	cc := cfg.ClientConfig(c.Log)
	if c.ConfigureClient != nil {
		c.ConfigureClient(cc)
	}
	client, err := pushapi.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("error creating Push API client: %w", err)
	}
	return client, nil
}

// ShutdownContext returns a context that is cancelled on SIGINT or SIGTERM.
func (c *Command) ShutdownContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
