package main

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/auth"
	"github.com/punchamoorthee/flexyledger/internal/domain"
)

const (
	defaultSeedAgents   = 1000
	defaultSeedBalance  = "10000"
	defaultSeedPassword = "agent-pass"
)

type seedOptions struct {
	count    int
	balance  string
	password string
	prefix   string
}

func seedCmd(e *env) *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bulk-provision agent accounts for load testing",
		Long: `Bulk-provision agent accounts with COPY.

Agents are named <prefix>1..<prefix>N and share one password, so the benchmark
can log in as any of them. Seeding is skipped when enough agents already exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, e, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.count, "count", "n", defaultSeedAgents, "number of agents to create")
	cmd.Flags().StringVar(&opts.balance, "balance", defaultSeedBalance, "initial balance per agent")
	cmd.Flags().StringVar(&opts.password, "password", defaultSeedPassword, "password shared by every seeded agent")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "agent", "username prefix")
	return cmd
}

func seedRows(opts seedOptions, hash string, balance int64, now time.Time) [][]interface{} {
	rows := make([][]interface{}, 0, opts.count)
	for i := 1; i <= opts.count; i++ {
		name := fmt.Sprintf("%s%d", opts.prefix, i)
		rows = append(rows, []interface{}{
			name, name, hash, string(domain.RoleAgent), balance, balance, now, now,
		})
	}
	return rows
}

func runSeed(cmd *cobra.Command, e *env, opts seedOptions) error {
	ctx := cmd.Context()
	if opts.count <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	balance, err := decimal.NewFromString(opts.balance)
	if err != nil || balance.IsNegative() || domain.CheckAmount("balance", balance) != nil {
		return fmt.Errorf("--balance must be a non-negative amount up to %s", domain.MaxAmount)
	}
	minor, err := domain.ToMinor(balance)
	if err != nil {
		return err
	}

	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	pool := e.store.Pool()
	var existing int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM accounts WHERE role = 'agent' AND username LIKE $1 || '%'", opts.prefix,
	).Scan(&existing); err != nil {
		return err
	}
	if existing >= opts.count {
		e.log.Info("agents already seeded, skipping", zap.Int("existing", existing))
		return nil
	}
	if existing > 0 {
		return fmt.Errorf("found %d of %d agents with prefix %q; remove them or pick another prefix", existing, opts.count, opts.prefix)
	}

	hash, err := auth.HashPassword(opts.password)
	if err != nil {
		return err
	}

	e.log.Info("generating agents", zap.Int("count", opts.count))
	rows := seedRows(opts, hash, minor, time.Now())

	copyCount, err := pool.CopyFrom(
		ctx,
		pgx.Identifier{"accounts"},
		[]string{"username", "display_name", "password_hash", "role", "balance", "initial_balance", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("bulk insert failed: %w", err)
	}

	e.log.Info("seeded agents", zap.Int64("count", copyCount), zap.String("balance", balance.StringFixed(2)))
	return nil
}
