package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qaforge/qasandbox/internal/gc"
)

var gcMaxAge time.Duration

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim sandboxes older than the retention threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cfg, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		maxAge := gcMaxAge
		if !cmd.Flags().Changed("max-age") {
			maxAge = cfg.GCMaxAge
		}

		n, err := gc.New(mgr, maxAge, cfg.GCInterval).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("reclaimed %d sandbox(es)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().DurationVar(&gcMaxAge, "max-age", 24*time.Hour, "Reclaim sandboxes older than this")
}
