package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/qaforge/qasandbox/internal/config"
	"github.com/qaforge/qasandbox/internal/ports"
)

var allocPortCmd = &cobra.Command{
	Use:   "allocate-port [session_id]",
	Short: "Print a free local port derived from the session ID",
	Long: `Print a free local port for an agent session, e.g. a browser
remote-debugging port. The port is derived from a hash of the session ID,
so the same named session lands on the same port across runs. Bind it
immediately: the reservation only holds while the listener is open.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := uuid.NewString()
		if len(args) == 1 {
			sessionID = args[0]
		}

		cfg := config.Default()
		port, err := ports.Allocator{Base: cfg.PortBase, Range: cfg.PortRange}.Allocate(sessionID)
		if err != nil {
			return err
		}
		fmt.Println(port)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(allocPortCmd)
}
