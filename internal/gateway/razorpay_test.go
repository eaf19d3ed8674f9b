package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		keyID:      "rzp_test_key",
		keySecret:  "test-secret",
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func signPayment(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestClient_VerifySignature(t *testing.T) {
	c := testClient("http://unused")

	t.Run("valid signature", func(t *testing.T) {
		sig := signPayment("test-secret", "order_123", "pay_456")
		ok, err := c.VerifySignature("order_123", "pay_456", sig)
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("tampered signature", func(t *testing.T) {
		sig := signPayment("wrong-secret", "order_123", "pay_456")
		ok, err := c.VerifySignature("order_123", "pay_456", sig)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing parameters are a hard error", func(t *testing.T) {
		ok, err := c.VerifySignature("", "pay_456", "sig")
		assert.ErrorIs(t, err, ErrMissingParams)
		assert.False(t, ok)

		ok, err = c.VerifySignature("order_123", "pay_456", "")
		assert.ErrorIs(t, err, ErrMissingParams)
		assert.False(t, ok)
	})
}

func TestClient_CreateOrder(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/orders", r.URL.Path)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "rzp_test_key", user)
			assert.Equal(t, "test-secret", pass)

			var payload map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, float64(999), payload["amount"])
			assert.Equal(t, "USD", payload["currency"])
			assert.Equal(t, float64(1), payload["payment_capture"])

			json.NewEncoder(w).Encode(Order{
				ID: "order_abc", Amount: 999, Currency: "USD", Status: "created",
			})
		}))
		defer server.Close()

		c := testClient(server.URL)
		order, err := c.CreateOrder(context.Background(), 999, "USD")
		assert.NoError(t, err)
		assert.Equal(t, "order_abc", order.ID)
		assert.Equal(t, int64(999), order.Amount)
	})

	t.Run("rejects non-positive amount without calling gateway", func(t *testing.T) {
		c := testClient("http://gateway.invalid")
		_, err := c.CreateOrder(context.Background(), 0, "USD")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("gateway error surfaces status and detail", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"description":"amount exceeds maximum"}}`))
		}))
		defer server.Close()

		c := testClient(server.URL)
		_, err := c.CreateOrder(context.Background(), 999, "USD")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "400")
		assert.Contains(t, err.Error(), "amount exceeds maximum")
	})
}
