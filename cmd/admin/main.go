package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/config"
	"github.com/punchamoorthee/flexyledger/internal/logging"
	"github.com/punchamoorthee/flexyledger/internal/store/postgres"
)

// env is shared by every subcommand once the root pre-run has loaded configuration.
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	store *postgres.Store
}

func main() {
	e := &env{}
	rootCmd := &cobra.Command{
		Use:           "flexyledger-admin",
		Short:         "Operational tooling for the flexyledger database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			e.close()
		},
	}

	rootCmd.AddCommand(migrateCmd(e))
	rootCmd.AddCommand(seedCmd(e))
	rootCmd.AddCommand(createAdminCmd(e))
	rootCmd.AddCommand(reportCmd(e))
	rootCmd.AddCommand(reconcileCmd(e))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.UsesMemoryStore() {
		return fmt.Errorf("admin commands need a PostgreSQL DB_SOURCE, got %s", config.MemoryDSN)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	st, err := postgres.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	e.cfg, e.log, e.store = cfg, logger, st
	return nil
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
	}
	if e.log != nil {
		e.log.Sync()
	}
}

func migrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			e.log.Info("schema applied")
			return nil
		},
	}
}
