package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService issues one-shot checkout QR codes for payment orders so a
// purchase started on desktop can be completed on a phone.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redis *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redis,
	}
}

// GenerateCheckoutQR encodes an order owned by userID into a short-lived
// QR code. Returns the opaque code and a base64 PNG rendering.
func (s *QRService) GenerateCheckoutQR(ctx context.Context, orderID string, userID int64) (string, string, error) {
	if s.redis == nil {
		return "", "", fmt.Errorf("qr codes require redis")
	}

	var amount int64
	var currency string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount_minor, currency FROM payment_orders WHERE order_id = $1 AND user_id = $2`,
		orderID, userID).Scan(&amount, &currency)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("order not found")
	}
	if err != nil {
		return "", "", err
	}

	qrData := map[string]any{
		"orderId":   orderID,
		"amount":    amount,
		"currency":  currency,
		"timestamp": time.Now().Unix(),
		"nonce":     s.generateNonce(),
	}

	jsonData, err := json.Marshal(qrData)
	if err != nil {
		return "", "", err
	}

	qrCode := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", qrCode)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(qrCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return qrCode, qrImage, nil
}

// ResolveCheckoutQR redeems a code. Each code resolves at most once.
func (s *QRService) ResolveCheckoutQR(ctx context.Context, qrData string) (map[string]any, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("qr codes require redis")
	}

	key := fmt.Sprintf("qr:%s", qrData)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
