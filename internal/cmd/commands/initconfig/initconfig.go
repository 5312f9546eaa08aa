package initconfig

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/hashicorp-forge/pushapi/internal/cmd/base"
	"github.com/hashicorp-forge/pushapi/internal/config"
)

var yes = regexp.MustCompile(`(?i)^y(es)?$`)

type Command struct {
	*base.Command

	flagConfig string
	flagForce  bool
}

func (c *Command) Synopsis() string {
	return "Create the configuration file interactively"
}

func (c *Command) Help() string {
	return `Usage: pushapi init [options]

  Asks for the source ID, the organization ID and the API key, then writes
  them to the configuration file, readable by the current user only. The
  organization ID defaults to the part of the source ID before the first
  dash. Catalog sources are configured to use the Stream API.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("init", flag.ContinueOnError))
	f.SetOutput(io.Discard)

	f.StringVar(&c.flagConfig, "config", config.DefaultFileName,
		"Path of the configuration file to create.")
	f.BoolVar(&c.flagForce, "force", false,
		"Overwrite an existing configuration file without asking.")

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if f.NArg() > 0 {
		c.UI.Error("init takes no arguments")
		return 1
	}

	if _, err := c.Fs.Stat(c.flagConfig); err == nil && !c.flagForce {
		answer, err := c.UI.Ask(fmt.Sprintf("%s already exists. Overwrite it? [y/N]", c.flagConfig))
		if err != nil {
			c.UI.Error(fmt.Sprintf("error reading answer: %v", err))
			return 1
		}
		if !yes.MatchString(strings.TrimSpace(answer)) {
			c.UI.Info("Keeping the existing configuration file.")
			return 0
		}
	}

	cfg, err := c.ask()
	if err != nil {
		c.UI.Error(fmt.Sprintf("error reading answer: %v", err))
		return 1
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		c.UI.Error(err.Error())
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			return cfgErr.Code
		}
		return 1
	}

	// Defaults are not written so the file stays minimal.
	out := &config.Config{
		Org:          cfg.Org,
		Source:       cfg.Source,
		APIKey:       cfg.APIKey,
		UseStreamAPI: cfg.UseStreamAPI,
	}
	if err := config.Save(c.Fs, c.flagConfig, out); err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	c.Log.Debug("configuration file created", "path", c.flagConfig, "stream", out.UseStreamAPI)
	c.UI.Output(fmt.Sprintf("Created %s.", c.flagConfig))
	return 0
}

func (c *Command) ask() (*config.Config, error) {
	source, err := c.UI.Ask("Source ID:")
	if err != nil {
		return nil, err
	}
	source = strings.TrimSpace(source)

	catalog, err := c.UI.Ask("Is it a Catalog Source? [y/N]")
	if err != nil {
		return nil, err
	}

	orgFromSource, _, _ := strings.Cut(source, "-")
	org, err := c.UI.Ask(fmt.Sprintf("Org ID: [%s]", orgFromSource))
	if err != nil {
		return nil, err
	}
	org = strings.TrimSpace(org)
	if org == "" {
		org = orgFromSource
	}

	apiKey, err := c.UI.AskSecret("API key:")
	if err != nil {
		return nil, err
	}

	return &config.Config{
		Org:          org,
		Source:       source,
		APIKey:       strings.TrimSpace(apiKey),
		UseStreamAPI: yes.MatchString(strings.TrimSpace(catalog)),
	}, nil
}
