package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/qaforge/qasandbox/internal/config"
	"github.com/qaforge/qasandbox/internal/routes"
	"github.com/qaforge/qasandbox/internal/sandbox"
)

var rootCmd = &cobra.Command{
	Use:          "qasandbox",
	Short:        "On-demand QA sandboxes behind a shared reverse proxy",
	Long:         `qasandbox provisions short-lived Docker sandboxes for build/test agents and exposes each one at https://qa-<short_id>.<base_domain> through Traefik.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newOrchestrator wires the route registrar and the sandbox manager for
// one CLI invocation. The returned cleanup stops the registrar.
func newOrchestrator() (*sandbox.Manager, config.Config, func(), error) {
	cfg := config.Default()
	reg := routes.New(cfg.TraefikFile, cfg.BaseDomain, cfg.EntryPoint, cfg.CertResolver)
	reg.Start()

	mgr, err := sandbox.NewManager(cfg, reg)
	if err != nil {
		reg.Stop()
		return nil, cfg, nil, err
	}
	return mgr, cfg, reg.Stop, nil
}
