package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/defreg/internal/app"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/presentation"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Watch sources and expose registry metrics for Prometheus",
	Long: `Watch every source root and serve the registry's Prometheus metrics on
/metrics and tier sizes on /stats until interrupted.

Example:
  defreg serve-metrics                   # Listen on metrics.addr
  defreg serve-metrics --addr :9464`,
	Args: cobra.NoArgs,
	RunE: runServeMetrics,
}

func init() {
	rootCmd.AddCommand(serveMetricsCmd)
	serveMetricsCmd.Flags().String("addr", "", "address to listen on (overrides metrics.addr)")
}

func metricsMux(a *app.App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := presentation.NewFormatter(w).FormatStats(a.Registry.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

func runServeMetrics(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Watch(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           metricsMux(a),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	log.Info(log.CatRegistry, "Serving metrics", "addr", ln.Addr().String())
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Serving metrics on http://%s/metrics\n", ln.Addr())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatRegistry, "Error stopping metrics server", err)
	}
	return nil
}
