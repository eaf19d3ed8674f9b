package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/headlinehero/backend/internal/generator"
	"github.com/headlinehero/backend/internal/models"
)

func authedRequest(method, target string, body []byte, userID string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewBuffer(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(context.WithValue(r.Context(), "userID", userID))
}

func TestCalculateCost(t *testing.T) {
	viper.Set("headline.base_cost", 3)
	viper.Set("headline.min_count", 5)
	viper.Set("headline.cost_per_extra", 0.5)

	tests := []struct {
		count int
		want  int64
	}{
		{count: 5, want: 3},
		{count: 3, want: 3},
		{count: 6, want: 4},
		{count: 7, want: 4},
		{count: 10, want: 6},
		{count: 15, want: 8},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateCost(tt.count), "count %d", tt.count)
	}
}

func TestGenerationService_GenerateHeadlines(t *testing.T) {
	viper.Set("headline.base_cost", 3)
	viper.Set("headline.min_count", 5)
	viper.Set("headline.cost_per_extra", 0.5)

	headlines := []string{"One", "Two", "Three", "Four", "Five", "Six"}
	requestBody := []byte(`{"content":"A long enough piece of content about Go","count":6,"keywords":["go","testing"]}`)

	t.Run("successful generation debits after success", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.MatchedBy(func(req generator.Request) bool {
			return req.Count == 6 && req.Tone == "professional" &&
				assert.ObjectsAreEqual([]string{"go", "testing"}, req.Keywords)
		})).Return(headlines, nil)

		service := NewGenerationService(db, NewCreditLedgerService(db), gen)

		// Balance check happens before the upstream call.
		dbmock.ExpectQuery(`SELECT balance FROM accounts WHERE user_id = \$1`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(20))

		// Debit, cost 4 for six headlines.
		dbmock.ExpectBegin()
		dbmock.ExpectQuery(lockQuery).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(20, 1))
		dbmock.ExpectExec(pendingInsert).
			WithArgs(sqlmock.AnyArg(), int64(42), int64(-4), "pending", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbmock.ExpectExec(balanceCAS).
			WithArgs(int64(16), sqlmock.AnyArg(), int64(42), 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbmock.ExpectExec(statusUpdate).
			WithArgs("completed", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbmock.ExpectCommit()

		dbmock.ExpectExec(`INSERT INTO headline_history`).
			WithArgs(int64(42), sqlmock.AnyArg(), sqlmock.AnyArg(), "professional", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := httptest.NewRecorder()
		service.GenerateHeadlines(w, authedRequest("POST", "/headlines/generate", requestBody, "42"))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp generateResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, headlines, resp.Headlines)
		assert.Equal(t, int64(4), resp.Cost)
		assert.Equal(t, int64(16), resp.Balance)
		assert.NoError(t, dbmock.ExpectationsWereMet())
		gen.AssertExpectations(t)
	})

	t.Run("insufficient credits never reaches the generator", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gen := &MockGenerator{}
		service := NewGenerationService(db, NewCreditLedgerService(db), gen)

		dbmock.ExpectQuery(`SELECT balance FROM accounts WHERE user_id = \$1`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(2))

		w := httptest.NewRecorder()
		service.GenerateHeadlines(w, authedRequest("POST", "/headlines/generate", requestBody, "42"))

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		gen.AssertNotCalled(t, "Generate")
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("empty result charges nothing", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return([]string{}, nil)
		service := NewGenerationService(db, NewCreditLedgerService(db), gen)

		dbmock.ExpectQuery(`SELECT balance FROM accounts WHERE user_id = \$1`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(20))

		w := httptest.NewRecorder()
		service.GenerateHeadlines(w, authedRequest("POST", "/headlines/generate", requestBody, "42"))

		assert.Equal(t, http.StatusBadGateway, w.Code)
		// No debit expectations set: any balance write would fail the mock.
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("generator failure charges nothing", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return(nil, assert.AnError)
		service := NewGenerationService(db, NewCreditLedgerService(db), gen)

		dbmock.ExpectQuery(`SELECT balance FROM accounts WHERE user_id = \$1`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(20))

		w := httptest.NewRecorder()
		service.GenerateHeadlines(w, authedRequest("POST", "/headlines/generate", requestBody, "42"))

		assert.Equal(t, http.StatusBadGateway, w.Code)
		// No debit expectations set: any balance write would fail the mock.
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("ledger conflict after generation surfaces as server error", func(t *testing.T) {
		db, dbmock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gen := &MockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return(headlines, nil)
		service := NewGenerationService(db, NewCreditLedgerService(db), gen)

		dbmock.ExpectQuery(`SELECT balance FROM accounts WHERE user_id = \$1`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(20))

		dbmock.ExpectBegin()
		dbmock.ExpectQuery(lockQuery).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(20, 1))
		dbmock.ExpectExec(pendingInsert).
			WithArgs(sqlmock.AnyArg(), int64(42), int64(-4), "pending", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbmock.ExpectExec(balanceCAS).
			WithArgs(int64(16), sqlmock.AnyArg(), int64(42), 1).
			WillReturnResult(sqlmock.NewResult(1, 0))
		dbmock.ExpectExec(failedInsert).
			WithArgs(sqlmock.AnyArg(), int64(42), int64(-4), "failed", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		dbmock.ExpectRollback()

		w := httptest.NewRecorder()
		service.GenerateHeadlines(w, authedRequest("POST", "/headlines/generate", requestBody, "42"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NoError(t, dbmock.ExpectationsWereMet())
	})

	t.Run("content below minimum is rejected", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewGenerationService(db, NewCreditLedgerService(db), &MockGenerator{})

		w := httptest.NewRecorder()
		service.GenerateHeadlines(w, authedRequest("POST", "/headlines/generate", []byte(`{"content":"short"}`), "42"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unauthenticated request is rejected", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := NewGenerationService(db, NewCreditLedgerService(db), &MockGenerator{})

		r := httptest.NewRequest("POST", "/headlines/generate", bytes.NewBuffer(requestBody))
		w := httptest.NewRecorder()
		service.GenerateHeadlines(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGenerationService_GetCredits(t *testing.T) {
	db, dbmock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGenerationService(db, NewCreditLedgerService(db), &MockGenerator{})

	dbmock.ExpectQuery(`SELECT balance FROM accounts WHERE user_id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(96))
	dbmock.ExpectQuery(`SELECT transaction_id, user_id, delta, status`).
		WithArgs(int64(42), 20).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id", "user_id", "delta", "status", "error_message", "created_at"}).
			AddRow("txn1", 42, 100, "completed", "", time.Now()))

	w := httptest.NewRecorder()
	service.GetCredits(w, authedRequest("GET", "/credits", nil, "42"))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp creditsResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, int64(96), resp.Balance)
	assert.Len(t, resp.Transactions, 1)
}

func TestGenerationService_GetHistory(t *testing.T) {
	db, dbmock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewGenerationService(db, NewCreditLedgerService(db), &MockGenerator{})

	dbmock.ExpectQuery(`SELECT id, user_id, topic, audience, tone, keywords, results, created_at`).
		WithArgs(int64(42), 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "topic", "audience", "tone", "keywords", "results", "created_at"}).
			AddRow(1, 42, "Go concurrency", "developers", "professional", `["go"]`, `["Headline A","Headline B"]`, time.Now()))

	w := httptest.NewRecorder()
	service.GetHistory(w, authedRequest("GET", "/headlines/history?limit=5", nil, "42"))

	assert.Equal(t, http.StatusOK, w.Code)
	var records []models.HeadlineRecord
	json.Unmarshal(w.Body.Bytes(), &records)
	assert.Len(t, records, 1)
	assert.Equal(t, "Go concurrency", records[0].Topic)
	assert.Equal(t, []string{"go"}, records[0].Keywords)
	assert.Equal(t, []string{"Headline A", "Headline B"}, records[0].Results)
}
