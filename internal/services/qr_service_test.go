package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestQRService_ResolveCheckoutQR(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewQRService(db, redisClient)

	t.Run("valid code resolves once", func(t *testing.T) {
		payload := map[string]any{
			"orderId":  "order_1",
			"amount":   float64(999),
			"currency": "USD",
		}
		jsonData, _ := json.Marshal(payload)
		qrCode := base64.URLEncoding.EncodeToString(jsonData)
		key := fmt.Sprintf("qr:%s", qrCode)

		redisMock.ExpectGet(key).SetVal(string(jsonData))
		redisMock.ExpectDel(key).SetVal(1)

		result, err := service.ResolveCheckoutQR(context.Background(), qrCode)
		assert.NoError(t, err)
		assert.Equal(t, "order_1", result["orderId"])
		assert.Equal(t, float64(999), result["amount"])
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired code", func(t *testing.T) {
		redisMock.ExpectGet("qr:expired").RedisNil()

		_, err := service.ResolveCheckoutQR(context.Background(), "expired")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid or expired")
	})
}

func TestQRService_GenerateCheckoutQR(t *testing.T) {
	t.Run("order must belong to the caller", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, _ := redismock.NewClientMock()
		service := NewQRService(db, redisClient)

		dbmock.ExpectQuery(`SELECT amount_minor, currency FROM payment_orders WHERE order_id = \$1 AND user_id = \$2`).
			WithArgs("order_1", int64(99)).
			WillReturnError(sql.ErrNoRows)

		_, _, err = service.GenerateCheckoutQR(context.Background(), "order_1", 99)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "order not found")
	})

	t.Run("redis is required", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewQRService(db, nil)

		_, _, err = service.GenerateCheckoutQR(context.Background(), "order_1", 42)
		assert.Error(t, err)
	})
}
