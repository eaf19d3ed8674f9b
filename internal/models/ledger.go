package models

import (
	"time"
)

// Account holds a user's credit balance. Created lazily on first mutation;
// a missing row reads as a zero balance.
type Account struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Credit transaction statuses. A transaction starts pending and transitions
// exactly once to completed or failed.
const (
	TxnStatusPending   = "pending"
	TxnStatusCompleted = "completed"
	TxnStatusFailed    = "failed"
)

// CreditTransaction is an append-only audit record of a balance mutation
// attempt. Delta is signed: positive = top-up, negative = spend.
type CreditTransaction struct {
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	UserID        int64     `json:"user_id" db:"user_id"`
	Delta         int64     `json:"delta" db:"delta"`
	Status        string    `json:"status" db:"status"`
	ErrorMessage  string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
