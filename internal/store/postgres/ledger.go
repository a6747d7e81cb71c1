package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/store"
)

// CreateTopup executes the debit and the request insert within one transaction.
func (s *Store) CreateTopup(ctx context.Context, req *domain.TopupRequest) (*domain.LedgerEvent, error) {
	cost, err := domain.ToMinor(req.Cost)
	if err != nil {
		return nil, err
	}
	faceValue, err := domain.ToMinor(req.FaceValue)
	if err != nil {
		return nil, err
	}
	commission, err := domain.ToMinor(req.Commission)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Conditional decrement. The balance check and the write are a single statement,
	// so two concurrent debits can never both pass against the same funds.
	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance - $2, updated_at = NOW()
		 WHERE id = $1 AND is_active AND balance >= $2
		 RETURNING balance`,
		req.AccountID, cost,
	).Scan(&balance)
	if err != nil {
		if isNoRows(err) {
			return nil, debitRejection(ctx, tx, req.AccountID)
		}
		return nil, fmt.Errorf("debit failed: %w", err)
	}

	// 2. Request row
	req.Status = domain.StatusPending
	err = tx.QueryRow(ctx,
		`INSERT INTO topup_requests (request_number, account_id, customer_name, phone_number,
			operator, mode, face_value, cost, commission, status, idempotency_key, request_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at, updated_at`,
		req.RequestNumber, req.AccountID, req.CustomerName, req.PhoneNumber, req.Operator,
		nullable(req.Mode), faceValue, cost, commission,
		string(req.Status), nullable(req.IdempotencyKey), nullable(req.RequestHash),
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "idx_topup_requests_idempotency") {
			return nil, domain.ErrIdempotencyConflict
		}
		return nil, fmt.Errorf("request insert failed: %w", err)
	}

	// 3. Debit event
	ev := &domain.LedgerEvent{
		AccountID:     req.AccountID,
		Amount:        domain.FromMinor(-cost),
		Reason:        domain.ReasonDebitOnRequest,
		RequestNumber: req.RequestNumber,
		BalanceAfter:  domain.FromMinor(balance),
	}
	if err := insertLedgerEvent(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return ev, nil
}

// debitRejection explains why the conditional decrement matched no row.
func debitRejection(ctx context.Context, tx pgx.Tx, accountID int64) error {
	var active bool
	err := tx.QueryRow(ctx, "SELECT is_active FROM accounts WHERE id = $1", accountID).Scan(&active)
	switch {
	case isNoRows(err):
		return domain.ErrAccountNotFound
	case err != nil:
		return fmt.Errorf("account lookup failed: %w", err)
	case !active:
		return domain.ErrAccountInactive
	default:
		return domain.ErrInsufficientBalance
	}
}

// ApplyStatus performs a status transition on a locked request row.
func (s *Store) ApplyStatus(ctx context.Context, requestNumber string, status domain.Status) (*domain.Transition, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := scanTopup(tx.QueryRow(ctx,
		"SELECT "+topupColumns+" FROM topup_requests WHERE request_number = $1 FOR UPDATE",
		requestNumber))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUnknownRequestNumber
		}
		return nil, fmt.Errorf("request lock failed: %w", err)
	}
	if req.Status.IsTerminal() || req.Status == status {
		return nil, domain.ErrDuplicateWebhook
	}

	tr := &domain.Transition{Previous: req.Status}
	err = tx.QueryRow(ctx,
		`UPDATE topup_requests SET status = $2, updated_at = NOW()
		 WHERE request_number = $1
		 RETURNING updated_at`,
		requestNumber, string(status),
	).Scan(&req.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("status update failed: %w", err)
	}
	req.Status = status

	if status.IsFailure() {
		cost, err := domain.ToMinor(req.Cost)
		if err != nil {
			return nil, err
		}
		var balance int64
		err = tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance + $2, updated_at = NOW()
			 WHERE id = $1
			 RETURNING balance`,
			req.AccountID, cost,
		).Scan(&balance)
		if err != nil {
			return nil, fmt.Errorf("credit failed: %w", err)
		}

		ev := &domain.LedgerEvent{
			AccountID:     req.AccountID,
			Amount:        domain.FromMinor(cost),
			Reason:        domain.ReasonCreditOnFailure,
			RequestNumber: req.RequestNumber,
			BalanceAfter:  domain.FromMinor(balance),
		}
		if err := insertLedgerEvent(ctx, tx, ev); err != nil {
			if isUniqueViolation(err, "idx_ledger_events_request_reason") {
				return nil, domain.ErrDuplicateWebhook
			}
			return nil, err
		}
		tr.Credit = ev
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	tr.Request = *req
	return tr, nil
}

func insertLedgerEvent(ctx context.Context, tx pgx.Tx, ev *domain.LedgerEvent) error {
	amount, err := domain.ToMinor(ev.Amount)
	if err != nil {
		return err
	}
	after, err := domain.ToMinor(ev.BalanceAfter)
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_events (account_id, amount, reason, request_number, balance_after)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		ev.AccountID, amount, string(ev.Reason), ev.RequestNumber, after,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

// Deposit credits an administrator deposit and writes its audit row.
func (s *Store) Deposit(ctx context.Context, in store.DepositInput) (*domain.Deposit, error) {
	amount, err := domain.ToMinor(in.Amount)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING balance`,
		in.AccountID, amount,
	).Scan(&balance)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		if isOutOfRange(err) {
			return nil, domain.Invalid("amount", "resulting balance out of range")
		}
		return nil, fmt.Errorf("deposit credit failed: %w", err)
	}

	d := &domain.Deposit{
		AccountID:    in.AccountID,
		Amount:       domain.FromMinor(amount),
		Note:         in.Note,
		CreatedBy:    in.CreatedBy,
		BalanceAfter: domain.FromMinor(balance),
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO deposits (account_id, amount, note, created_by, balance_after)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		in.AccountID, amount, in.Note, in.CreatedBy, balance,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("deposit insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return d, nil
}

func (s *Store) accountExists(ctx context.Context, accountID int64) error {
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ListLedgerEvents retrieves the request-tied ledger history of an account, newest first.
func (s *Store) ListLedgerEvents(ctx context.Context, accountID int64) ([]domain.LedgerEvent, error) {
	if err := s.accountExists(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, amount, reason, request_number, balance_after, created_at
		 FROM ledger_events WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		var (
			ev            domain.LedgerEvent
			amount, after int64
			reason        string
		)
		if err := rows.Scan(&ev.ID, &ev.AccountID, &amount, &reason, &ev.RequestNumber, &after, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Amount = domain.FromMinor(amount)
		ev.BalanceAfter = domain.FromMinor(after)
		ev.Reason = domain.LedgerReason(reason)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) ListDeposits(ctx context.Context, accountID int64) ([]domain.Deposit, error) {
	if err := s.accountExists(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, amount, note, created_by, balance_after, created_at
		 FROM deposits WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []domain.Deposit
	for rows.Next() {
		var (
			d             domain.Deposit
			amount, after int64
		)
		if err := rows.Scan(&d.ID, &d.AccountID, &amount, &d.Note, &d.CreatedBy, &after, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Amount = domain.FromMinor(amount)
		d.BalanceAfter = domain.FromMinor(after)
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// Reconcile recomputes the ledger identity for one account in a single snapshot.
func (s *Store) Reconcile(ctx context.Context, accountID int64) (*domain.Reconciliation, error) {
	var balance, initial, deposits, ledgerSum int64
	err := s.db.QueryRow(ctx,
		`SELECT a.balance, a.initial_balance,
			COALESCE((SELECT SUM(d.amount) FROM deposits d WHERE d.account_id = a.id), 0)::BIGINT,
			COALESCE((SELECT SUM(e.amount) FROM ledger_events e WHERE e.account_id = a.id), 0)::BIGINT
		 FROM accounts a WHERE a.id = $1`,
		accountID,
	).Scan(&balance, &initial, &deposits, &ledgerSum)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("reconcile query failed: %w", err)
	}

	return &domain.Reconciliation{
		AccountID:      accountID,
		Balance:        domain.FromMinor(balance),
		InitialBalance: domain.FromMinor(initial),
		Deposits:       domain.FromMinor(deposits),
		LedgerSum:      domain.FromMinor(ledgerSum),
		Consistent:     balance == initial+deposits+ledgerSum,
	}, nil
}
