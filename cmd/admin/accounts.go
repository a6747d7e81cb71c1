package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/service"
)

func createAdminCmd(e *env) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the administrator account if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				username = e.cfg.AdminUsername
			}
			if password == "" {
				password = e.cfg.AdminPassword
			}
			if err := e.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			created, err := service.NewAccountService(e.store, e.log).EnsureAdministrator(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if created {
				e.log.Info("administrator created", zap.String("username", username))
			} else {
				e.log.Info("administrator already exists", zap.String("username", username))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "administrator username (default ADMIN_USERNAME)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "administrator password (default ADMIN_PASSWORD)")
	return cmd
}

func reconcileCmd(e *env) *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare balances with deposits and ledger history",
		Long: `Check that balance = initial balance + deposits + ledger sum.

Without --account every account is checked. Each result is printed as a JSON line;
the command fails when any account has drifted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids := []int64{accountID}
			if accountID == 0 {
				accounts, err := e.store.ListAccounts(ctx)
				if err != nil {
					return err
				}
				ids = ids[:0]
				for _, a := range accounts {
					ids = append(ids, a.ID)
				}
			}

			enc := json.NewEncoder(os.Stdout)
			var drifted []int64
			for _, id := range ids {
				rec, err := e.store.Reconcile(ctx, id)
				if err != nil {
					return fmt.Errorf("reconcile account %d: %w", id, err)
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
				if !rec.Consistent {
					drifted = append(drifted, id)
				}
			}
			if len(drifted) > 0 {
				e.log.Error("ledger drift detected", zap.Int64s("accounts", drifted))
				return fmt.Errorf("%d account(s) inconsistent: %v", len(drifted), drifted)
			}
			e.log.Info("all balances reconcile", zap.Int("accounts", len(ids)))
			return nil
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account ID (0 checks every account)")
	return cmd
}

// accountLabel is used in report headers.
func accountLabel(a *domain.Account) string {
	if a.DisplayName != "" && a.DisplayName != a.Username {
		return fmt.Sprintf("%s (%s)", a.DisplayName, a.Username)
	}
	return a.Username
}
