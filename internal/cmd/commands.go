package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/pushapi/internal/cmd/base"
	"github.com/hashicorp-forge/pushapi/internal/cmd/commands/clean"
	"github.com/hashicorp-forge/pushapi/internal/cmd/commands/deleteolderthan"
	"github.com/hashicorp-forge/pushapi/internal/cmd/commands/initconfig"
	"github.com/hashicorp-forge/pushapi/internal/cmd/commands/push"
	"github.com/hashicorp-forge/pushapi/internal/cmd/commands/version"
)

// Commands is the mapping of all available pushapi commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"push": func() (cli.Command, error) {
			return &push.Command{Command: b}, nil
		},
		"delete-older-than": func() (cli.Command, error) {
			return &deleteolderthan.Command{Command: b}, nil
		},
		"init": func() (cli.Command, error) {
			return &initconfig.Command{Command: b}, nil
		},
		"clean": func() (cli.Command, error) {
			return &clean.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
	}
}
