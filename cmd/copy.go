package cmd

import (
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <sandbox_id> <src> <dst>",
	Short: "Copy a local file or directory into the sandbox",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()
		return mgr.Upload(cmd.Context(), args[0], args[1], args[2])
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <sandbox_id> <src> <dst>",
	Short: "Copy a file or directory out of the sandbox",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()
		return mgr.Download(cmd.Context(), args[0], args[1], args[2])
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
}
