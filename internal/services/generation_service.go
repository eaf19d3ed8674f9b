package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/headlinehero/backend/internal/generator"
	"github.com/headlinehero/backend/internal/models"
)

var (
	// ErrGenerationFailed wraps upstream generator failures. No credits
	// are spent when it is returned.
	ErrGenerationFailed = errors.New("headline generation failed")

	// ErrLedgerUpdate means headlines were produced but the debit could
	// not be applied.
	ErrLedgerUpdate = errors.New("failed to update credit balance")
)

type GenerationService struct {
	db       *sql.DB
	ledger   *CreditLedgerService
	gen      generator.Generator
	validate *validator.Validate
}

func NewGenerationService(db *sql.DB, ledger *CreditLedgerService, gen generator.Generator) *GenerationService {
	viper.SetDefault("headline.base_cost", 3)
	viper.SetDefault("headline.min_count", 5)
	viper.SetDefault("headline.cost_per_extra", 0.5)

	return &GenerationService{
		db:       db,
		ledger:   ledger,
		gen:      gen,
		validate: validator.New(),
	}
}

// CalculateCost prices a generation request. The base price covers up to
// the configured minimum count; each extra headline adds a fractional
// increment, and the total rounds up to a whole credit.
func CalculateCost(count int) int64 {
	base := viper.GetFloat64("headline.base_cost")
	minCount := viper.GetInt("headline.min_count")
	perExtra := viper.GetFloat64("headline.cost_per_extra")

	extra := 0
	if count > minCount {
		extra = count - minCount
	}
	return int64(math.Ceil(base + float64(extra)*perExtra))
}

// Spend runs generate and debits cost only after it succeeds. The balance
// check before generating keeps obviously-broke callers from burning
// upstream quota, but the debit itself re-checks under lock, so a
// concurrent spend can still fail the final debit.
func (s *GenerationService) Spend(ctx context.Context, userID, cost int64, generate func(context.Context) ([]string, error)) ([]string, int64, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if balance < cost {
		return nil, balance, ErrInsufficientCredits
	}

	results, err := generate(ctx)
	if err != nil {
		return nil, balance, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(results) == 0 {
		return nil, balance, fmt.Errorf("%w: empty result", ErrGenerationFailed)
	}

	account, err := s.ledger.Debit(ctx, userID, cost)
	if errors.Is(err, ErrInsufficientCredits) {
		return nil, balance, err
	}
	if err != nil {
		// Headlines exist but were not paid for. Surface the ledger
		// failure rather than silently giving them away.
		return nil, balance, fmt.Errorf("%w: %v", ErrLedgerUpdate, err)
	}
	return results, account.Balance, nil
}

type generateRequest struct {
	Topic    string   `json:"content" validate:"required,min=10"`
	Audience string   `json:"audience" validate:"omitempty,max=100"`
	Tone     string   `json:"tone" validate:"omitempty,oneof=professional casual friendly humorous formal"`
	Keywords []string `json:"keywords" validate:"omitempty,max=10,dive,max=50"`
	Count    int      `json:"count" validate:"omitempty,min=5,max=15"`
}

type generateResponse struct {
	Headlines []string `json:"headlines"`
	Cost      int64    `json:"cost"`
	Balance   int64    `json:"balance"`
}

// GenerateHeadlines produces headlines and debits the caller on success.
// @Summary Generate headlines
// @Description Generate headline variants for the given content, spending credits on success only
// @Tags headlines
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body generateRequest true "Generation parameters"
// @Success 200 {object} generateResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /headlines/generate [post]
func (s *GenerationService) GenerateHeadlines(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req generateRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if req.Count == 0 {
		req.Count = 6
	}
	if req.Tone == "" {
		req.Tone = "professional"
	}
	if err := s.validate.Struct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err.(validator.ValidationErrors))
		return
	}

	cost := CalculateCost(req.Count)
	results, balance, err := s.Spend(r.Context(), userID, cost, func(ctx context.Context) ([]string, error) {
		return s.gen.Generate(ctx, generator.Request{
			Topic:    req.Topic,
			Audience: req.Audience,
			Tone:     req.Tone,
			Keywords: req.Keywords,
			Count:    req.Count,
		})
	})
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		SendErrorResponse(w, fmt.Sprintf("Insufficient credits: need %d, have %d", cost, balance), http.StatusPaymentRequired, nil)
		return
	case errors.Is(err, ErrGenerationFailed):
		log.Printf("[HEADLINES] Generation failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Headline generation failed, no credits were charged", http.StatusBadGateway, nil)
		return
	case err != nil:
		log.Printf("[HEADLINES] Spend failed for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to update credit balance", http.StatusInternalServerError, nil)
		return
	}

	s.saveHistory(r.Context(), userID, req, results)

	log.Printf("[HEADLINES] Generated %d headlines for user %d, cost %d, balance %d", len(results), userID, cost, balance)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(generateResponse{Headlines: results, Cost: cost, Balance: balance})
}

// saveHistory is best effort. A failed history write never fails a
// generation the user already paid for.
func (s *GenerationService) saveHistory(ctx context.Context, userID int64, req generateRequest, results []string) {
	encoded, err := json.Marshal(results)
	if err != nil {
		log.Printf("[HEADLINES] Failed to encode history for user %d: %v", userID, err)
		return
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO headline_history (user_id, topic, audience, tone, keywords, results, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, req.Topic, req.Audience, req.Tone, encodeKeywords(req.Keywords), encoded, time.Now())
	if err != nil {
		log.Printf("[HEADLINES] Failed to save history for user %d: %v", userID, err)
	}
}

func encodeKeywords(keywords []string) []byte {
	if keywords == nil {
		keywords = []string{}
	}
	b, _ := json.Marshal(keywords)
	return b
}

type creditsResponse struct {
	Balance      int64                      `json:"balance"`
	Transactions []models.CreditTransaction `json:"transactions"`
}

// GetCredits returns the caller's balance and recent transactions.
// @Summary Get credit balance
// @Tags credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} creditsResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /credits [get]
func (s *GenerationService) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		log.Printf("[CREDITS] Failed to fetch balance for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}
	txns, err := s.ledger.ListTransactions(r.Context(), userID, 20)
	if err != nil {
		log.Printf("[CREDITS] Failed to fetch transactions for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(creditsResponse{Balance: balance, Transactions: txns})
}

// GetHistory returns the caller's recent generations.
// @Summary Get generation history
// @Tags headlines
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max records (1-100, default 10)"
// @Success 200 {array} models.HeadlineRecord
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /headlines/history [get]
func (s *GenerationService) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
			limit = n
		}
	}

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT id, user_id, topic, audience, tone, keywords, results, created_at
		 FROM headline_history WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		log.Printf("[HEADLINES] Failed to fetch history for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch history", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	records := []models.HeadlineRecord{}
	for rows.Next() {
		var rec models.HeadlineRecord
		var keywords, results []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Topic, &rec.Audience, &rec.Tone, &keywords, &results, &rec.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch history", http.StatusInternalServerError, nil)
			return
		}
		if len(keywords) > 0 {
			if err := json.Unmarshal(keywords, &rec.Keywords); err != nil {
				log.Printf("[HEADLINES] Corrupt keywords on history record %d: %v", rec.ID, err)
			}
		}
		if err := json.Unmarshal(results, &rec.Results); err != nil {
			log.Printf("[HEADLINES] Corrupt results on history record %d: %v", rec.ID, err)
			SendErrorResponse(w, "Failed to fetch history", http.StatusInternalServerError, nil)
			return
		}
		records = append(records, rec)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}
