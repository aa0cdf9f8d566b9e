package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"library-service/config"
	"library-service/library"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "librarian",
		Short:        "Library lending service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			a.cfg = cfg
			a.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newUserCmd(a))
	return root
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openDatabase opens the configured store and migrates it.
func (a *app) openDatabase(ctx context.Context) (*library.Database, error) {
	return library.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN,
		library.WithLogger(a.logger.With("component", "database")))
}

// openManager wires the lending workflow over the configured store.
func (a *app) openManager(ctx context.Context) (*library.LibraryManager, error) {
	db, err := a.openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	sessions := library.NewSessionIssuer(db, []byte(a.cfg.Auth.JWTSecret),
		library.WithTokenTTL(a.cfg.Auth.TokenTTL),
		library.WithSessionLogger(a.logger.With("component", "sessions")),
	)
	return library.NewLibraryManager(db, sessions,
		library.WithManagerLogger(a.logger.With("component", "lending")),
		library.WithPasswordCost(a.cfg.Auth.BcryptCost),
	), nil
}
