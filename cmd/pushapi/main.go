package main

import (
	"os"

	"github.com/hashicorp-forge/pushapi/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
