package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qaforge/qasandbox/internal/config"
	"github.com/qaforge/qasandbox/internal/sandbox"
)

var (
	initMemory string
	initCPUs   string
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a sandbox and print its ID",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var limits sandbox.Limits
		var err error
		if initMemory != "" {
			if limits.Memory, err = config.ParseMemory(initMemory); err != nil {
				return err
			}
		}
		if initCPUs != "" {
			if limits.NanoCPUs, err = config.ParseCPUs(initCPUs); err != nil {
				return err
			}
		}

		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		mgr, _, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		id, err := mgr.Init(cmd.Context(), name, limits)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initMemory, "memory", "", "Memory ceiling, e.g. 2g (default from config)")
	initCmd.Flags().StringVar(&initCPUs, "cpus", "", "CPU share ceiling, e.g. 2 or 0.5 (default from config)")
}
