package cmd

import (
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach <sandbox_id>",
	Short: "Open an interactive shell in the sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()
		return mgr.Attach(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
