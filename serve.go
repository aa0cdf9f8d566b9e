package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"library-service/api"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	mgr, err := a.openManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	handler := api.NewServer(mgr,
		api.WithLogger(a.logger.With("component", "http")),
		api.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
	)
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	go handler.PurgeSessions(ctx, a.cfg.Server.TokenPurgeInterval)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("API listening", "addr", srv.Addr, "driver", a.cfg.Database.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
