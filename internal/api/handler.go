package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/idempotency"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer    *scoring.Service
	repo      domain.Repository
	cache     domain.Cache
	publisher *bus.Publisher
	guard     *idempotency.Guard
	custom    *rules.CustomRules
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(scorer *scoring.Service, repo domain.Repository, cache domain.Cache, publisher *bus.Publisher, guard *idempotency.Guard, custom *rules.CustomRules, version string) *Handler {
	return &Handler{
		scorer:    scorer,
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		guard:     guard,
		custom:    custom,
		version:   version,
	}
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	ID        string        `json:"id,omitempty"`
	AccountID string        `json:"accountId"`
	Type      string        `json:"type"`
	Channel   string        `json:"channel,omitempty"`
	Amount    AmountInfo    `json:"amount"`
	Merchant  *MerchantInfo `json:"merchant,omitempty"`
	Location  *LocationInfo `json:"location,omitempty"`
	DeviceID  string        `json:"deviceId,omitempty"`
	Timestamp *time.Time    `json:"timestamp,omitempty"`
}

// AmountInfo represents the transaction amount.
type AmountInfo struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// MerchantInfo identifies the counterparty merchant.
type MerchantInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
}

// LocationInfo is the transaction origin location.
type LocationInfo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	AssessmentID string               `json:"assessmentId"`
	TxID         string               `json:"txId"`
	Score        int                  `json:"score"`
	Level        domain.RiskLevel     `json:"level"`
	Decision     domain.Decision      `json:"decision"`
	RuleTriggers []domain.RuleTrigger `json:"ruleTriggers,omitempty"`
	Prediction   *domain.MLPrediction `json:"prediction,omitempty"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Score handles POST /score requests: it validates the transaction, runs
// the scoring pipeline synchronously, persists the outcome, and publishes
// the assessment's domain events.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "accountId is required",
		})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type is required",
		})
		return
	}
	if !req.Amount.Value.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount.value must be positive",
		})
		return
	}
	if req.Amount.Currency == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount.currency is required",
		})
		return
	}

	txID := req.ID
	if txID == "" {
		txID = uuid.New().String()
	} else if h.guard != nil {
		seen, err := h.guard.HasProcessed(ctx, tenantID, txID)
		if err != nil {
			slog.Error("idempotency check failed", "tx_id", txID, "error", err)
		} else if seen {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "transaction already scored",
				"txId":  txID,
			})
			return
		}
	}

	now := time.Now().UTC()
	timestamp := now
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}

	tx := &domain.Transaction{
		ID:        txID,
		TenantID:  tenantID,
		AccountID: req.AccountID,
		Type:      req.Type,
		Channel:   req.Channel,
		Amount:    domain.Money{Value: req.Amount.Value, Currency: req.Amount.Currency},
		DeviceID:  req.DeviceID,
		Timestamp: timestamp,
		CreatedAt: now,
	}
	if req.Merchant != nil {
		tx.Merchant = &domain.Merchant{
			ID:       req.Merchant.ID,
			Name:     req.Merchant.Name,
			Category: req.Merchant.Category,
		}
	}
	if req.Location != nil {
		tx.Location = &domain.Geolocation{
			Latitude:   req.Location.Latitude,
			Longitude:  req.Location.Longitude,
			Country:    req.Location.Country,
			City:       req.Location.City,
			ObservedAt: timestamp,
		}
	}

	assessment, err := h.scorer.Assess(ctx, tx)
	if err != nil {
		h.writeScoringError(w, tx.ID, err)
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
		if err := h.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment", "assessment_id", assessment.ID, "error", err)
		}
	}

	if h.publisher != nil {
		if err := h.publisher.PublishAssessmentEvents(ctx, assessment); err != nil {
			slog.Error("failed to publish assessment events", "assessment_id", assessment.ID, "error", err)
		}
	}

	if h.guard != nil {
		if err := h.guard.MarkProcessed(ctx, tenantID, tx.ID); err != nil {
			slog.Error("failed to mark transaction processed", "tx_id", tx.ID, "error", err)
		}
	}

	resp := ScoreResponse{
		AssessmentID: assessment.ID,
		TxID:         tx.ID,
		Score:        assessment.Score,
		Level:        assessment.Level(),
		Decision:     assessment.Decision,
		RuleTriggers: assessment.RuleTriggers,
		Prediction:   assessment.Prediction,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeScoringError(w http.ResponseWriter, txID string, err error) {
	switch {
	case errors.Is(err, domain.ErrBusinessRule):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrUnavailable):
		slog.Error("scoring dependency unavailable", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "scoring temporarily unavailable",
		})
	default:
		slog.Error("scoring failed", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetAssessment retrieves a risk assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	if assessmentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	a, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get assessment", "id", assessmentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get assessment",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":            a.ID,
		"transactionId": a.TransactionID,
		"score":         a.Score,
		"level":         a.Level(),
		"decision":      a.Decision,
		"ruleTriggers":  a.RuleTriggers,
		"prediction":    a.Prediction,
		"createdAt":     a.CreatedAt,
		"completedAt":   a.CompletedAt,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns the tenant's enabled custom rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	configs, err := h.repo.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": configs,
		"count": len(configs),
	})
}

// GetRule retrieves a custom rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	cfg, err := h.repo.GetRuleConfig(ctx, tenantID, ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Severity    int    `json:"severity"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates and persists a custom rule for the tenant.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	severity := domain.Severity(req.Severity)
	switch severity {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be one of 10, 25, 40, 60",
		})
		return
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Severity:    severity,
		Enabled:     req.Enabled,
	}

	if err := h.custom.ValidateRule(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, tenantID, cfg); err != nil {
		slog.Error("failed to save rule config", "id", cfg.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    cfg,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads the tenant's rules from the repository into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	configs, err := h.repo.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.custom.ReloadTenantRules(tenantID, configs); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "tenant_id", tenantID, "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(configs),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
