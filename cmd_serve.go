package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/peteski22/plugin-hooks/internal/plugins"
	"github.com/peteski22/plugin-hooks/internal/plugins/pipeline"
)

type serveOptions struct {
	address string
}

func newServeCmd(rootFlags *rootFlags) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP host with the configured plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootFlags, opts)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "Listen address, overrides server.address")

	return cmd
}

func runServe(ctx context.Context, rootFlags *rootFlags, opts *serveOptions) error {
	a, err := loadApp(rootFlags, os.Stderr)
	if err != nil {
		return err
	}
	logger := a.logger

	addr := a.cfg.Server.Address
	if opts.address != "" {
		addr = opts.address
	}

	logger.Info("starting "+appName, "plugins", len(a.cfg.Plugins), "hooks", a.hookTypes.Names())

	manager, err := a.newManager()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing plugins: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop plugins", "error", err)
		}
	}()

	for name, err := range manager.Unavailable() {
		logger.Warn("plugin unavailable for this session", "plugin", name, "error", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(logger, manager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("server starting", "addr", addr)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// newRouter builds the host router. Application routes run through the
// HTTP hook pair; admin routes do not.
func newRouter(logger hclog.Logger, manager *plugins.Manager) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	pipeline.RegisterAdminRoutes(router, logger, manager)

	p := pipeline.NewPipeline(logger, manager)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(p.Middleware())

		r.Get("/example", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, `{"message":"Hello from %s","time":"%s"}`, appName, time.Now().Format(time.RFC3339))
		})

		r.Post("/echo", func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "failed to read body", http.StatusBadRequest)
				return
			}
			if ct := r.Header.Get("Content-Type"); ct != "" {
				w.Header().Set("Content-Type", ct)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
		})
	})

	return router
}
