package models

import (
	"time"
)

// Payment order statuses as tracked locally. The gateway owns the
// authoritative payment state; these only describe our side.
const (
	OrderStatusCreated = "CREATED"
	OrderStatusSettled = "SETTLED"
)

// PaymentOrder binds a gateway order to the internal user that created it.
// The webhook resolves users through this row first, so payer email never
// has to be a trusted join key for orders created by us.
type PaymentOrder struct {
	OrderID     string    `json:"order_id" db:"order_id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	AmountMinor int64     `json:"amount_minor" db:"amount_minor"` // smallest currency unit
	Currency    string    `json:"currency" db:"currency"`
	Receipt     string    `json:"receipt" db:"receipt"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProcessedPayment is the durable idempotency record for webhook settlement.
// The primary key on payment_id is what makes replays safe across restarts
// and across server instances.
type ProcessedPayment struct {
	PaymentID string    `json:"payment_id" db:"payment_id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	PackageID string    `json:"package_id" db:"package_id"`
	Credits   int64     `json:"credits" db:"credits"`
	SettledAt time.Time `json:"settled_at" db:"settled_at"`
}

// CreditPackage is a static catalog entry. Matched against webhook amounts
// by exact price equality only.
type CreditPackage struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Credits         int64  `json:"credits"`
	PriceMinorUnits int64  `json:"price"` // smallest currency unit
	Description     string `json:"description"`
}
