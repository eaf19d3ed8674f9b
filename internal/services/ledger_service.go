package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/headlinehero/backend/internal/models"
	"github.com/lib/pq"
)

var (
	// ErrInvalidAmount rejects balance mutations that would go negative.
	ErrInvalidAmount = errors.New("balance must not be negative")
	// ErrInsufficientCredits means the user cannot afford the requested spend.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrStoreUnavailable wraps infrastructure failures reaching the ledger store.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
	// ErrConflict means a concurrent writer beat this mutation; safe to retry.
	ErrConflict = errors.New("concurrent balance update conflict")
)

// SettleHook runs extra statements inside the same database transaction as
// a balance mutation. Settlement uses it to record the processed payment
// atomically with the credit.
type SettleHook func(tx *sql.Tx) error

// CreditLedgerService owns all balance mutations. Every write goes through
// mutate: a pending CreditTransaction, a row-locked balance update with an
// optimistic version check, then the terminal transition, all in one
// sql.Tx, so a crash cannot commit partial state. Same-user mutations serialize on the
// row lock; different users never contend.
type CreditLedgerService struct {
	db *sql.DB
}

func NewCreditLedgerService(db *sql.DB) *CreditLedgerService {
	return &CreditLedgerService{db: db}
}

// GetBalance returns the user's balance, treating a missing account row as
// zero. Store failures surface as ErrStoreUnavailable.
func (s *CreditLedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return balance, nil
}

// SetBalance sets the balance to an absolute value. The recorded
// transaction delta is newBalance minus the balance observed under the row
// lock.
func (s *CreditLedgerService) SetBalance(ctx context.Context, userID, newBalance int64) (*models.Account, error) {
	if newBalance < 0 {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, userID, func(current int64) (int64, error) {
		return newBalance, nil
	}, nil)
}

// Credit adds amount to the balance.
func (s *CreditLedgerService) Credit(ctx context.Context, userID, amount int64) (*models.Account, error) {
	return s.CreditWithHook(ctx, userID, amount, nil)
}

// CreditWithHook adds amount to the balance and runs hook inside the same
// transaction.
func (s *CreditLedgerService) CreditWithHook(ctx context.Context, userID, amount int64, hook SettleHook) (*models.Account, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, userID, func(current int64) (int64, error) {
		return current + amount, nil
	}, hook)
}

// Debit subtracts amount from the balance. The check against the current
// balance happens under the row lock, so two concurrent debits cannot both
// pass it.
func (s *CreditLedgerService) Debit(ctx context.Context, userID, amount int64) (*models.Account, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	return s.mutate(ctx, userID, func(current int64) (int64, error) {
		if current < amount {
			return 0, ErrInsufficientCredits
		}
		return current - amount, nil
	}, nil)
}

// mutate applies compute(current) to the account balance. Sequence inside
// one transaction: lock (or note absence of) the account row, compute the
// target balance, append a pending credit_transactions row, write the
// balance with a version check, run the hook, mark the transaction
// completed, commit. A compute rejection aborts before anything is written.
func (s *CreditLedgerService) mutate(ctx context.Context, userID int64, compute func(current int64) (int64, error), hook SettleHook) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	var current int64
	var version int
	exists := true
	err = tx.QueryRowContext(ctx,
		`SELECT balance, version FROM accounts WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&current, &version)
	if err == sql.ErrNoRows {
		exists = false
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	newBalance, err := compute(current)
	if err != nil {
		return nil, err
	}
	if newBalance < 0 {
		return nil, ErrInvalidAmount
	}

	txnID := uuid.NewString()
	delta := newBalance - current
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (transaction_id, user_id, delta, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		txnID, userID, delta, models.TxnStatusPending, time.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.writeBalance(ctx, tx, userID, newBalance, version, exists); err != nil {
		s.recordFailure(userID, txnID, delta, err)
		return nil, err
	}

	if hook != nil {
		if err := hook(tx); err != nil {
			s.recordFailure(userID, txnID, delta, err)
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_transactions SET status = $1 WHERE transaction_id = $2`,
		models.TxnStatusCompleted, txnID); err != nil {
		s.recordFailure(userID, txnID, delta, err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		s.recordFailure(userID, txnID, delta, err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &models.Account{
		UserID:    userID,
		Balance:   newBalance,
		Version:   version + 1,
		UpdatedAt: time.Now(),
	}, nil
}

func (s *CreditLedgerService) writeBalance(ctx context.Context, tx *sql.Tx, userID, newBalance int64, version int, exists bool) error {
	if !exists {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (user_id, balance, version, updated_at) VALUES ($1, $2, 1, $3)`,
			userID, newBalance, time.Now())
		if isUniqueViolation(err) {
			// Lost the insert race to a concurrent first mutation.
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, version = version + 1, updated_at = $2
		 WHERE user_id = $3 AND version = $4`,
		newBalance, time.Now(), userID, version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// recordFailure appends a failed audit row outside the aborted transaction
// so the attempt stays visible after rollback. Best effort: the rollback
// already guarantees no balance change committed.
func (s *CreditLedgerService) recordFailure(userID int64, txnID string, delta int64, cause error) {
	_, err := s.db.Exec(
		`INSERT INTO credit_transactions (transaction_id, user_id, delta, status, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		txnID, userID, delta, models.TxnStatusFailed, cause.Error(), time.Now())
	if err != nil {
		log.Printf("[LEDGER] Failed to record failed transaction %s for user %d: %v", txnID, userID, err)
	}
}

// ListTransactions returns the most recent audit rows for a user.
func (s *CreditLedgerService) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_id, user_id, delta, status, COALESCE(error_message, ''), created_at
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	transactions := []models.CreditTransaction{}
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.TransactionID, &t.UserID, &t.Delta, &t.Status, &t.ErrorMessage, &t.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// FindStalePending returns pending transactions older than the threshold.
// Pending rows commit only together with their balance write, so anything
// this finds points at a failure the reconciliation sweep should look at.
func (s *CreditLedgerService) FindStalePending(ctx context.Context, olderThan time.Duration) ([]models.CreditTransaction, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_id, user_id, delta, status, COALESCE(error_message, ''), created_at
		 FROM credit_transactions
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at`, models.TxnStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	stale := []models.CreditTransaction{}
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.TransactionID, &t.UserID, &t.Delta, &t.Status, &t.ErrorMessage, &t.CreatedAt); err != nil {
			return nil, err
		}
		stale = append(stale, t)
	}
	return stale, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
