package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/domain"
)

var reportHeader = []string{
	"request_number", "created_at", "operator", "mode", "phone_number", "customer_name",
	"face_value", "cost", "commission", "status",
}

func reportCmd(e *env) *cobra.Command {
	var (
		accountID int64
		status    string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export an account's operations history as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if accountID <= 0 {
				return fmt.Errorf("--account is required")
			}
			account, err := e.store.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}

			reqs, err := e.store.ListTopups(ctx, domain.TopupFilter{AccountID: &accountID, Status: domain.Status(status)})
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := writeReport(w, reqs); err != nil {
				return err
			}
			e.log.Info("report exported",
				zap.String("account", accountLabel(account)),
				zap.Int("rows", len(reqs)),
			)
			return nil
		},
	}

	cmd.Flags().Int64Var(&accountID, "account", 0, "account ID to export")
	cmd.Flags().StringVar(&status, "status", "", "only include requests with this status")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func writeReport(w io.Writer, reqs []domain.TopupRequest) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, r := range reqs {
		mode := r.Mode
		if mode == "" {
			mode = "normal"
		}
		if err := cw.Write([]string{
			r.RequestNumber,
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			r.Operator,
			mode,
			r.PhoneNumber,
			r.CustomerName,
			r.FaceValue.StringFixed(2),
			r.Cost.StringFixed(2),
			r.Commission.StringFixed(2),
			string(r.Status),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
