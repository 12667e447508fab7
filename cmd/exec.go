package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qaforge/qasandbox/internal/sandbox"
	"github.com/qaforge/qasandbox/internal/sberr"
)

var execTimeout time.Duration

var execCmd = &cobra.Command{
	Use:   "exec <sandbox_id> <command...>",
	Short: "Run a command in the sandbox's default shell",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// The orchestrator is torn down inside the helper, so the exits
		// below never skip its cleanup.
		res, err := runExec(cmd.Context(), args[0], strings.Join(args[1:], " "))

		// Partial output is still worth printing on timeout.
		fmt.Print(res.Stdout)
		fmt.Fprint(os.Stderr, res.Stderr)

		if err != nil {
			if errors.Is(err, sberr.ErrExecutionTimeout) {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(124)
			}
			return err
		}
		if res.ExitCode != 0 {
			os.Exit(res.ExitCode)
		}
		return nil
	},
}

func runExec(ctx context.Context, id, command string) (sandbox.ExecResult, error) {
	mgr, _, cleanup, err := newOrchestrator()
	if err != nil {
		return sandbox.ExecResult{}, err
	}
	defer cleanup()
	return mgr.Exec(ctx, id, command, execTimeout)
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().DurationVar(&execTimeout, "timeout", sandbox.DefaultExecTimeout, "Kill the command after this long")
}
