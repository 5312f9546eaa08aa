package clean

import (
	"flag"
	"fmt"
	"io"

	"github.com/hashicorp-forge/pushapi/internal/cmd/base"
	"github.com/hashicorp-forge/pushapi/pkg/batcher"
)

type Command struct {
	*base.Command

	flagDir string
}

func (c *Command) Synopsis() string {
	return "Remove batch artifacts written by dry runs"
}

func (c *Command) Help() string {
	return `Usage: pushapi clean [options]

  Removes the ` + batcher.ArtifactPrefix + `<N> files written by push -dry-run.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("clean", flag.ContinueOnError))
	f.SetOutput(io.Discard)

	f.StringVar(&c.flagDir, "dir", ".",
		"Folder holding the artifacts.")

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	removed, err := batcher.RemoveArtifacts(c.Fs, c.flagDir, c.Log)
	for _, name := range removed {
		c.UI.Info(fmt.Sprintf("removed %s", name))
	}
	if err != nil {
		c.UI.Error(fmt.Sprintf("error removing artifacts: %v", err))
		return 1
	}

	if len(removed) == 0 {
		c.UI.Output("No artifacts to remove.")
		return 0
	}
	c.UI.Output(fmt.Sprintf("Removed %d artifact(s).", len(removed)))
	return 0
}
