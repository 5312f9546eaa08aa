package deleteolderthan

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dustin/go-humanize"

	"github.com/hashicorp-forge/pushapi/internal/cmd/base"
	"github.com/hashicorp-forge/pushapi/internal/config"
	"github.com/hashicorp-forge/pushapi/pkg/status"
)

// DefaultHours is the age used when neither hours nor -before are given.
const DefaultHours = 30

type Command struct {
	*base.Command

	flagConfig  string
	flagEnvFile string
	flagBefore  string

	// now is replaced in tests.
	now func() time.Time
}

func (c *Command) Synopsis() string {
	return "Delete documents older than a given age from a Push source"
}

func (c *Command) Help() string {
	return `Usage: pushapi delete-older-than [options] [hours]

  Deletes the documents of the source that were last pushed more than the
  given number of hours ago (default 30), or before the date given with
  -before. Dates are read in the local time zone unless they carry one.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("delete-older-than", flag.ContinueOnError))
	f.SetOutput(io.Discard)

	f.StringVar(&c.flagConfig, "config", config.DefaultFileName,
		"Path to the configuration file.")
	f.StringVar(&c.flagEnvFile, "env-file", ".env",
		"Dotenv file with PUSHAPI_* overrides. Ignored when missing.")
	f.StringVar(&c.flagBefore, "before", "",
		"Delete documents pushed before this date, such as \"2024-03-01 08:00\".")

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	positional, err := f.ParseInterspersed(args)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if c.now == nil {
		c.now = time.Now
	}

	cutoff, err := c.cutoff(positional)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	cfg, code := c.LoadConfig(c.flagConfig, c.flagEnvFile)
	if code != 0 {
		return code
	}
	client, err := c.NewClient(cfg)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	ctx, stop := c.ShutdownContext()
	defer stop()

	ctrl := status.New(client, status.WithLogger(c.Log), status.WithClock(c.now))
	sent, err := ctrl.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error deleting old documents: %v", err))
		return base.ExitRunError
	}
	if !sent {
		c.UI.Warn(fmt.Sprintf("%s is in the future, nothing was deleted.", cutoff.Format(time.RFC3339)))
		return 0
	}

	c.UI.Output(fmt.Sprintf("Deleted documents pushed before %s (%s).",
		cutoff.Format(time.RFC3339), humanize.RelTime(cutoff, c.now(), "ago", "from now")))
	return 0
}

func (c *Command) cutoff(positional []string) (time.Time, error) {
	if c.flagBefore != "" {
		if len(positional) > 0 {
			return time.Time{}, fmt.Errorf("hours and -before cannot be used together")
		}
		t, err := dateparse.ParseLocal(c.flagBefore)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid -before date %q: %w", c.flagBefore, err)
		}
		return t, nil
	}

	hours := float64(DefaultHours)
	switch len(positional) {
	case 0:
	case 1:
		h, err := strconv.ParseFloat(positional[0], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%q is not a number of hours", positional[0])
		}
		hours = h
	default:
		return time.Time{}, fmt.Errorf("expected at most one argument, got %d", len(positional))
	}

	age, err := status.HoursDuration(hours)
	if err != nil {
		return time.Time{}, err
	}
	return c.now().Add(-age), nil
}
