// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"codebroker/internal/container"
	"codebroker/internal/metrics"
	"codebroker/internal/pool"
)

var (
	servePoolAddr string
	servePoolHTTP bool
)

var servePoolCmd = &cobra.Command{
	Use:   "serve-pool",
	Short: "Keep the container pool warm and optionally expose its metrics over HTTP",
	Long: `serve-pool runs the Container Pool's keep-alive loop standalone, without
a Dispatcher in front of it, for local debugging of pool warm-up and
self-healing behavior. With --http it also serves the process-wide
Prometheus registry at /metrics.`,
	RunE: runServePool,
}

func init() {
	servePoolCmd.Flags().StringVar(&servePoolAddr, "http-addr", "127.0.0.1:9090", "address to serve /metrics on when --http is set")
	servePoolCmd.Flags().BoolVar(&servePoolHTTP, "http", false, "serve the Prometheus registry at /metrics")
	rootCmd.AddCommand(servePoolCmd)
}

func runServePool(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	engine, err := container.NewEngine(container.EngineTypeDocker)
	if err != nil {
		return fmt.Errorf("select container engine: %w", err)
	}

	logger := newLogger()
	p := pool.New(engine, settings, logger, pool.WithMetrics(metrics.Default()))

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if servePoolHTTP {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: servePoolAddr, Handler: mux}
		go func() {
			logger.Info("serving pool metrics", "addr", servePoolAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	p.EnsureWarm(ctx)
	logger.Info("container pool warm, starting keep-alive loop", "size", settings.PoolSize())

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.KeepAliveLoop(ctx)
	}()

	<-ctx.Done()
	logger.Info("shutting down container pool")
	p.Shutdown(context.Background())
	<-done
	return nil
}
