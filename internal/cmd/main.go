package cmd

import (
	"bufio"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/hashicorp-forge/pushapi/internal/version"
)

const cliName = "pushapi"

// Main runs the CLI with the given arguments and returns the exit code.
func Main(args []string) int {
	log := hclog.New(&hclog.LoggerOptions{
		Name:  cliName,
		Level: hclog.Info,
	})

	ui := &cli.BasicUi{
		Reader:      bufio.NewReader(os.Stdin),
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	initCommands(log, ui)

	c := &cli.CLI{
		Name:     cliName,
		Args:     commandArgs(args),
		Version:  version.Version,
		Commands: Commands,
	}

	exitCode, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	return exitCode
}

// commandArgs returns args without the program name. Anything that does not
// start with a command or a help or version flag is handed to push, so
// "pushapi ./docs -d 0" runs "push ./docs -d 0".
func commandArgs(args []string) []string {
	if len(args) < 2 {
		return nil
	}
	rest := args[1:]

	if strings.HasPrefix(rest[0], "-") {
		switch strings.TrimLeft(rest[0], "-") {
		case "version", "v":
			return []string{"version"}
		case "help", "h":
			return rest
		}
	}
	if _, ok := Commands[rest[0]]; ok {
		return rest
	}
	return append([]string{"push"}, rest...)
}
