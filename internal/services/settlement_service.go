package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/headlinehero/backend/internal/models"
)

// ErrUserNotFound means neither the payment order nor the payer email
// resolved to a known user.
var ErrUserNotFound = errors.New("user not found for payment")

// SignatureVerifier is the slice of the gateway client the settlement
// pipeline needs.
type SignatureVerifier interface {
	VerifySignature(orderID, paymentID, signature string) (bool, error)
}

// SettlementService consumes gateway webhook events and applies verified
// payments to credit balances. Delivery is at-least-once, so every step up
// to the ledger write must be replay-safe, and the processed-payment mark
// commits in the same transaction as the credit.
type SettlementService struct {
	db          *sql.DB
	ledger      *CreditLedgerService
	gateway     SignatureVerifier
	maxAttempts int
	backoffBase time.Duration
}

func NewSettlementService(db *sql.DB, ledger *CreditLedgerService, gateway SignatureVerifier) *SettlementService {
	viper.SetDefault("settlement.max_attempts", 3)
	viper.SetDefault("settlement.backoff_base", time.Second)

	return &SettlementService{
		db:          db,
		ledger:      ledger,
		gateway:     gateway,
		maxAttempts: viper.GetInt("settlement.max_attempts"),
		backoffBase: viper.GetDuration("settlement.backoff_base"),
	}
}

// webhookPayload mirrors the gateway's webhook body. The payment id
// appears both at the top level and nested in the entity; the entity wins
// when both are present.
type webhookPayload struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
	Payload   struct {
		Payment struct {
			Entity struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
				Email  string `json:"email"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleWebhook settles a payment webhook event.
// @Summary Payment gateway webhook
// @Description Verify and idempotently apply a payment event to the payer's credit balance
// @Tags payments
// @Accept json
// @Produce json
// @Param event body webhookPayload true "Gateway webhook payload"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /webhooks/razorpay [post]
func (s *SettlementService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	var event webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		log.Printf("[SETTLEMENT] Malformed webhook body: %v", err)
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	paymentID := event.Payload.Payment.Entity.ID
	if paymentID == "" {
		paymentID = event.PaymentID
	}
	if paymentID == "" {
		SendErrorResponse(w, "Missing payment id", http.StatusBadRequest, nil)
		return
	}

	// Dedup before anything else: replays of settled payments are a no-op.
	settled, err := s.alreadySettled(r.Context(), paymentID)
	if err != nil {
		log.Printf("[SETTLEMENT] Dedup check failed for payment %s: %v", paymentID, err)
		SendErrorResponse(w, "Settlement failed", http.StatusInternalServerError, nil)
		return
	}
	if settled {
		log.Printf("[SETTLEMENT] Duplicate webhook for payment %s, skipping", paymentID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"success": true, "duplicate": true})
		return
	}

	valid, err := s.gateway.VerifySignature(event.OrderID, event.PaymentID, event.Signature)
	if err != nil {
		log.Printf("[SETTLEMENT] Signature verification error for payment %s: %v", paymentID, err)
		SendErrorResponse(w, "Missing payment verification parameters", http.StatusBadRequest, nil)
		return
	}
	if !valid {
		log.Printf("[SETTLEMENT] Invalid signature for payment %s", paymentID)
		SendErrorResponse(w, "Invalid payment signature", http.StatusBadRequest, nil)
		return
	}

	amount := event.Payload.Payment.Entity.Amount
	pkg, ok := ResolvePackage(amount)
	if !ok {
		log.Printf("[SETTLEMENT] No package priced at %d for payment %s", amount, paymentID)
		SendErrorResponse(w, "Invalid package amount", http.StatusBadRequest, nil)
		return
	}

	userID, err := s.resolveUser(r.Context(), event.OrderID, event.Payload.Payment.Entity.Email)
	if errors.Is(err, ErrUserNotFound) {
		log.Printf("[SETTLEMENT] No user for payment %s (order %s)", paymentID, event.OrderID)
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[SETTLEMENT] User resolution failed for payment %s: %v", paymentID, err)
		SendErrorResponse(w, "Settlement failed", http.StatusInternalServerError, nil)
		return
	}

	if err := s.Settle(r.Context(), userID, paymentID, event.OrderID, pkg); err != nil {
		log.Printf("[SETTLEMENT] Settlement failed for payment %s after %d attempts: %v", paymentID, s.maxAttempts, err)
		SendErrorResponse(w, "Settlement failed: "+err.Error(), http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SETTLEMENT] Payment %s settled: +%d credits for user %d (%s)", paymentID, pkg.Credits, userID, pkg.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// Settle credits the package and marks the payment processed in one
// transaction, retrying transient failures. A unique violation on the mark
// means a concurrent replay won the race, which is success.
func (s *SettlementService) Settle(ctx context.Context, userID int64, paymentID, orderID string, pkg *models.CreditPackage) error {
	return withRetry(ctx, s.maxAttempts, s.backoffBase, func() error {
		_, err := s.ledger.CreditWithHook(ctx, userID, pkg.Credits, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO processed_payments (payment_id, order_id, user_id, package_id, credits, settled_at)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				paymentID, orderID, userID, pkg.ID, pkg.Credits, time.Now()); err != nil {
				return err
			}
			if orderID != "" {
				if _, err := tx.ExecContext(ctx,
					`UPDATE payment_orders SET status = $1 WHERE order_id = $2`,
					models.OrderStatusSettled, orderID); err != nil {
					return err
				}
			}
			return nil
		})
		if isUniqueViolation(err) {
			log.Printf("[SETTLEMENT] Payment %s already marked processed, treating as settled", paymentID)
			return nil
		}
		return err
	})
}

func (s *SettlementService) alreadySettled(ctx context.Context, paymentID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_payments WHERE payment_id = $1)`, paymentID).
		Scan(&exists)
	return exists, err
}

// resolveUser prefers the payment order created by us (the order carries
// the internal user id), falling back to payer email for orders created
// out-of-band. Email is a weak join key, which is exactly why it is the
// fallback and not the primary.
func (s *SettlementService) resolveUser(ctx context.Context, orderID, email string) (int64, error) {
	var userID int64
	if orderID != "" {
		err := s.db.QueryRowContext(ctx,
			`SELECT user_id FROM payment_orders WHERE order_id = $1`, orderID).Scan(&userID)
		if err == nil {
			return userID, nil
		}
		if err != sql.ErrNoRows {
			return 0, err
		}
	}

	if email == "" {
		return 0, ErrUserNotFound
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE email = $1`, strings.ToLower(email)).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}
