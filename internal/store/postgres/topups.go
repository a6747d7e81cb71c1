package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/flexyledger/internal/domain"
)

const topupColumns = `request_number, account_id, customer_name, phone_number, operator, mode,
	face_value, cost, commission, status, COALESCE(idempotency_key, ''), COALESCE(request_hash, ''),
	created_at, updated_at`

func scanTopup(row pgx.Row) (*domain.TopupRequest, error) {
	var (
		r                       domain.TopupRequest
		mode                    *string
		status                  string
		value, cost, commission int64
	)
	err := row.Scan(&r.RequestNumber, &r.AccountID, &r.CustomerName, &r.PhoneNumber, &r.Operator,
		&mode, &value, &cost, &commission, &status, &r.IdempotencyKey, &r.RequestHash,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if mode != nil {
		r.Mode = *mode
	}
	r.Status = domain.Status(status)
	r.FaceValue = domain.FromMinor(value)
	r.Cost = domain.FromMinor(cost)
	r.Commission = domain.FromMinor(commission)
	return &r, nil
}

func (s *Store) GetTopup(ctx context.Context, requestNumber string) (*domain.TopupRequest, error) {
	r, err := scanTopup(s.db.QueryRow(ctx,
		"SELECT "+topupColumns+" FROM topup_requests WHERE request_number = $1", requestNumber))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUnknownRequestNumber
		}
		return nil, fmt.Errorf("request query failed: %w", err)
	}
	return r, nil
}

func (s *Store) FindTopupByIdempotencyKey(ctx context.Context, accountID int64, key string) (*domain.TopupRequest, error) {
	r, err := scanTopup(s.db.QueryRow(ctx,
		"SELECT "+topupColumns+" FROM topup_requests WHERE account_id = $1 AND idempotency_key = $2",
		accountID, key))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	return r, nil
}

// ListTopups returns requests newest first. A zero Limit returns everything.
func (s *Store) ListTopups(ctx context.Context, filter domain.TopupFilter) ([]domain.TopupRequest, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+topupColumns+` FROM topup_requests
		 WHERE ($1::BIGINT IS NULL OR account_id = $1)
		   AND ($2::TEXT = '' OR status = $2)
		 ORDER BY created_at DESC, request_number DESC
		 LIMIT NULLIF($3::INT, 0)`,
		filter.AccountID, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("request list failed: %w", err)
	}
	defer rows.Close()

	var requests []domain.TopupRequest
	for rows.Next() {
		r, err := scanTopup(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// DashboardStats aggregates the landing-page counters. accountID 0 covers every account.
func (s *Store) DashboardStats(ctx context.Context, accountID int64, day time.Time) (*domain.DashboardStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var (
		stats      domain.DashboardStats
		commission int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE created_at >= $2 AND created_at < $3),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COALESCE(SUM(commission) FILTER (WHERE status = 'sent'), 0)::BIGINT
		 FROM topup_requests
		 WHERE ($1 = 0 OR account_id = $1)`,
		accountID, start, end,
	).Scan(&stats.TodayCount, &stats.PendingCount, &commission)
	if err != nil {
		return nil, fmt.Errorf("dashboard query failed: %w", err)
	}
	stats.TotalCommission = domain.FromMinor(commission)
	return &stats, nil
}
