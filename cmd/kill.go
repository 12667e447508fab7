package cmd

import (
	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill <sandbox_id>",
	Short: "Tear down a sandbox, its network, and its route",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()
		return mgr.Kill(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}
