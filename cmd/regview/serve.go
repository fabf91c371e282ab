package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chis/regview/internal/api"
	"github.com/chis/regview/internal/bootstrap"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var listen string
	var noAuth bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return opts.withServices(ctx, func(ctx context.Context, deps *bootstrap.ServiceDependencies) error {
				addr := deps.Config.ListenAddr
				if listen != "" {
					addr = listen
				}

				cfg := api.Config{
					ListenAddr:        addr,
					Service:           deps.Explorer,
					Refresher:         deps.Refresher,
					EventBus:          deps.EventBus,
					Metrics:           deps.Metrics,
					RequestsPerMinute: deps.Config.APIRequestsPerMinute,
					Logger:            deps.Logger,
				}
				if !noAuth {
					cfg.Sessions = deps.Sessions
				}
				server := api.NewServer(cfg)

				errChan := make(chan error, 1)
				go func() {
					errChan <- server.Start()
				}()

				deps.Logger.Info("API server running on %s", addr)
				deps.Logger.Info("Available endpoints:")
				deps.Logger.Info("  GET    /api/health                              - Server health check")
				deps.Logger.Info("  GET    /api/registries                          - List registries")
				deps.Logger.Info("  POST   /api/registries                          - Add a registry")
				deps.Logger.Info("  GET    /api/registries/{id}/images              - Aggregate images")
				deps.Logger.Info("  POST   /api/registries/{id}/test                - Test connection")
				deps.Logger.Info("  DELETE /api/registries/{id}/images/{repo}?tag=  - Delete a tag")
				deps.Logger.Info("  GET    /api/events                              - Scan progress (SSE)")
				deps.Logger.Info("  GET    /metrics                                 - Prometheus metrics")

				select {
				case err := <-errChan:
					if err != nil {
						return fmt.Errorf("server error: %w", err)
					}
					return nil
				case <-ctx.Done():
					deps.Logger.Info("Received shutdown signal...")
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown error: %w", err)
				}
				deps.Logger.Info("API server stopped")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "ignore any stored session token")
	return cmd
}
