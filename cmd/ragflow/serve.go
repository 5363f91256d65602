package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/randalmurphal/ragflow/internal/httpapi"
	"github.com/spf13/cobra"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := root.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ensureCollection(ctx); err != nil {
				return fmt.Errorf("prepare vector collection: %w", err)
			}
			if addr == "" {
				addr = a.settings.API.Addr()
			}
			return serve(ctx, a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to api.host:api.port)")
	return cmd
}

// serve runs the API until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, a *app, addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := a.settings
	api := httpapi.New(a.rag, a.indexing, a.context,
		httpapi.Info{Name: s.App.Name, Version: s.App.Version, Environment: s.App.Env},
		httpapi.WithCORSOrigins(s.API.CORSOrigins),
		httpapi.WithMaxUploadSize(s.Documents.MaxFileSize),
		httpapi.WithMetrics(httpapi.NewMetrics(reg)),
		httpapi.WithLogger(a.logger),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", addr, "env", s.App.Env)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", "timeout", s.API.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.API.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("graceful shutdown incomplete", "error", err)
		return srv.Close()
	}
	a.logger.Info("http server stopped")
	return nil
}
