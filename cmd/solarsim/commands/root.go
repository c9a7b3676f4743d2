package commands

import (
	"github.com/spf13/cobra"
)

func Execute() error {
	root := &cobra.Command{
		Use:   "solarsim",
		Short: "Agent-based rooftop solar adoption simulator",
	}

	root.AddCommand(runCmd())
	return root.Execute()
}
