package version

import (
	"github.com/hashicorp-forge/pushapi/internal/cmd/base"
	"github.com/hashicorp-forge/pushapi/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the pushapi version"
}

func (c *Command) Help() string {
	return "Usage: pushapi version"
}

func (c *Command) Run(args []string) int {
	c.UI.Output("pushapi v" + version.Version)
	return 0
}
