package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qaforge/qasandbox/internal/gc"
	"github.com/qaforge/qasandbox/internal/pool"
	"github.com/qaforge/qasandbox/internal/sandbox"
	"github.com/qaforge/qasandbox/internal/server"
)

var (
	servePort     int
	servePoolSize int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon: HTTP API, warm pool, scheduled GC",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cfg, cleanup, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer cleanup()

		poolSize := cfg.PoolSize
		if cmd.Flags().Changed("pool-size") {
			poolSize = servePoolSize
		}

		// Warm the claim pool. The manager doubles as the pool's toucher
		// so idle warm sandboxes stay ahead of the garbage collector.
		var warmPool *pool.Pool
		if poolSize > 0 {
			warmPool = pool.New(cfg.PoolLeaseTTL, mgr)
			prov := pool.ProvisionerFunc(func(ctx context.Context, name string) (string, error) {
				return mgr.Init(ctx, name, sandbox.Limits{})
			})
			if err := warmPool.Warm(cmd.Context(), prov, poolSize); err != nil {
				return fmt.Errorf("warm pool: %w", err)
			}
			warmPool.StartReaper(time.Minute)
			log.Printf("warm pool ready (size: %d, lease TTL: %s)", poolSize, cfg.PoolLeaseTTL)
		}

		// Scheduled reclamation.
		collector := gc.New(mgr, cfg.GCMaxAge, cfg.GCInterval)
		collector.Start()
		log.Printf("gc started (max age: %s, interval: %s)", cfg.GCMaxAge, cfg.GCInterval)

		srv := server.New(cfg, mgr, warmPool)
		addr := fmt.Sprintf(":%d", servePort)
		httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

		// Graceful shutdown on SIGTERM/SIGINT.
		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			sig := <-sigCh
			log.Printf("received %v, shutting down...", sig)
			httpServer.Shutdown(context.Background())
			collector.Stop()
			if warmPool != nil {
				warmPool.Stop()
				log.Println("tearing down warm pool...")
				for _, id := range warmPool.SandboxIDs() {
					if err := mgr.Kill(context.Background(), id); err != nil {
						log.Printf("teardown of pooled sandbox failed: %v", err)
					}
				}
			}
		}()

		log.Printf("qasandbox serving on %s (base domain: %s)", addr, cfg.BaseDomain)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().IntVar(&servePoolSize, "pool-size", 3, "Pre-warmed sandboxes to keep claimable (0 to disable)")
}
