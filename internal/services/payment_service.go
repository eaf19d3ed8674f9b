package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/headlinehero/backend/internal/gateway"
	"github.com/headlinehero/backend/internal/models"
)

type PaymentService struct {
	db       *sql.DB
	gateway  *gateway.Client
	validate *validator.Validate
}

func NewPaymentService(db *sql.DB, gw *gateway.Client) *PaymentService {
	return &PaymentService{
		db:       db,
		gateway:  gw,
		validate: validator.New(),
	}
}

type createOrderRequest struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// CreateOrder opens a gateway order for a credit package purchase.
// @Summary Create payment order
// @Description Create a gateway order for the given amount and bind it to the caller
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param order body createOrderRequest true "Order amount in minor units"
// @Success 201 {object} gateway.Order
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payment/create-order [post]
func (s *PaymentService) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createOrderRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err.(validator.ValidationErrors))
		return
	}

	order, err := s.gateway.CreateOrder(r.Context(), req.Amount, req.Currency)
	if err != nil {
		log.Printf("[PAYMENT] Order creation failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	_, err = s.db.ExecContext(r.Context(),
		`INSERT INTO payment_orders (order_id, user_id, amount_minor, currency, receipt, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, userID, order.Amount, order.Currency, order.Receipt, models.OrderStatusCreated, time.Now())
	if err != nil {
		log.Printf("[PAYMENT] Failed to record order %s: %v", order.ID, err)
		SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[PAYMENT] Order %s created for user %d (%d %s)", order.ID, userID, order.Amount, order.Currency)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

type verifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// VerifyPayment checks a checkout callback signature.
// @Summary Verify payment signature
// @Description Verify the gateway signature returned by the client-side checkout
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param verification body verifyPaymentRequest true "Checkout verification fields"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Router /payment/verify [post]
func (s *PaymentService) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err.(validator.ValidationErrors))
		return
	}

	valid, err := s.gateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature)
	if err != nil || !valid {
		log.Printf("[PAYMENT] Verification failed for order %s payment %s", req.OrderID, req.PaymentID)
		SendErrorResponse(w, "Invalid payment signature", http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// ListPackages returns the purchasable credit packages.
// @Summary List credit packages
// @Tags payments
// @Produce json
// @Success 200 {array} models.CreditPackage
// @Router /packages [get]
func (s *PaymentService) ListPackages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CreditPackages())
}

// ListOrders returns the caller's payment orders, newest first.
// @Summary List payment orders
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.PaymentOrder
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /payment/orders [get]
func (s *PaymentService) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT order_id, user_id, amount_minor, currency, receipt, status, created_at
		 FROM payment_orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT 50`, userID)
	if err != nil {
		log.Printf("[PAYMENT] Failed to list orders for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	orders := []models.PaymentOrder{}
	for rows.Next() {
		var o models.PaymentOrder
		if err := rows.Scan(&o.OrderID, &o.UserID, &o.AmountMinor, &o.Currency, &o.Receipt, &o.Status, &o.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
			return
		}
		orders = append(orders, o)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}
