package main

import (
	"os"

	"github.com/gridflex/flexsim/cmd/solarsim/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
