package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qaforge/qasandbox/internal/shortid"
)

var getHostCmd = &cobra.Command{
	Use:   "get-host <sandbox_id>",
	Short: "Print the sandbox's public URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cfg, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		rec, err := mgr.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(shortid.URL(rec.ShortID, cfg.BaseDomain))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getHostCmd)
}
