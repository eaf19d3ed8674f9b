// Package gateway wraps the Razorpay REST API: order creation and payment
// signature verification.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrInvalidAmount = errors.New("order amount must be greater than zero")
	ErrMissingParams = errors.New("missing payment verification parameters")
)

// Order is the gateway order object returned on creation.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // smallest currency unit
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// NewClient builds a client from viper config.
func NewClient() *Client {
	viper.SetDefault("razorpay.base_url", "https://api.razorpay.com")
	viper.SetDefault("razorpay.timeout", 10*time.Second)
	viper.SetDefault("razorpay.currency", "USD")

	return &Client{
		baseURL:   viper.GetString("razorpay.base_url"),
		keyID:     viper.GetString("razorpay.key_id"),
		keySecret: viper.GetString("razorpay.key_secret"),
		httpClient: &http.Client{
			Timeout: viper.GetDuration("razorpay.timeout"),
		},
	}
}

// DefaultCurrency returns the configured checkout currency.
func (c *Client) DefaultCurrency() string {
	return viper.GetString("razorpay.currency")
}

// CreateOrder creates a gateway order for the given amount in minor units.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency string) (*Order, error) {
	if amountMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	if currency == "" {
		currency = c.DefaultCurrency()
	}

	payload := map[string]any{
		"amount":          amountMinor,
		"currency":        currency,
		"receipt":         fmt.Sprintf("receipt_%d", time.Now().UnixNano()),
		"payment_capture": 1,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway order request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway order creation failed with status %d: %s", resp.StatusCode, string(detail))
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("failed to decode gateway order: %w", err)
	}
	return &order, nil
}

// VerifySignature checks the HMAC-SHA256 payment signature over
// "<orderID>|<paymentID>". Missing inputs are a hard error, never treated
// as an unsigned pass.
func (c *Client) VerifySignature(orderID, paymentID, signature string) (bool, error) {
	if orderID == "" || paymentID == "" || signature == "" {
		return false, ErrMissingParams
	}

	mac := hmac.New(sha256.New, []byte(c.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature)), nil
}
