// Package worker provides async transaction scoring from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/idempotency"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker consumes submitted transactions from the EventBus and runs them
// through the scoring pipeline. Delivery is at-least-once; the idempotency
// guard makes redelivered transactions no-ops.
type Worker struct {
	eventBus  domain.EventBus
	repo      domain.Repository
	scorer    *scoring.Service
	publisher *bus.Publisher
	guard     *idempotency.Guard

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string
}

// NewWorker creates a new async scoring worker.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, scorer *scoring.Service, publisher *bus.Publisher, guard *idempotency.Guard) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		eventBus:  eventBus,
		repo:      repo,
		scorer:    scorer,
		publisher: publisher,
		guard:     guard,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing submitted transactions for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.eventBus.Subscribe(w.ctx, tenantID, domain.TopicTransactionSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionSubmitted,
	)

	return nil
}

// processTransaction scores one submitted transaction.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if tx.TenantID == "" {
		tx.TenantID = tenantID
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	if w.guard != nil {
		seen, err := w.guard.HasProcessed(ctx, tx.TenantID, tx.ID)
		if err != nil {
			slog.Error("idempotency check failed",
				"tx_id", tx.ID,
				"error", err,
			)
		} else if seen {
			slog.Debug("skipping already-scored transaction",
				"tx_id", tx.ID,
				"tenant_id", tx.TenantID,
			)
			return nil
		}
	}

	assessment, err := w.scorer.Assess(ctx, &tx)
	if err != nil {
		slog.Error("scoring failed",
			"tx_id", tx.ID,
			"tenant_id", tx.TenantID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, tx.TenantID, &tx); err != nil {
			slog.Error("failed to save transaction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
		if err := w.repo.SaveAssessment(ctx, tx.TenantID, assessment); err != nil {
			slog.Error("failed to save assessment",
				"assessment_id", assessment.ID,
				"error", err,
			)
		}
	}

	if w.publisher != nil {
		if err := w.publisher.PublishAssessmentEvents(ctx, assessment); err != nil {
			slog.Error("failed to publish assessment events",
				"assessment_id", assessment.ID,
				"error", err,
			)
		}
	}

	if w.guard != nil {
		if err := w.guard.MarkProcessed(ctx, tx.TenantID, tx.ID); err != nil {
			slog.Error("failed to mark transaction processed",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction scored",
		"tx_id", tx.ID,
		"tenant_id", tx.TenantID,
		"score", assessment.Score,
		"level", assessment.Level(),
		"decision", assessment.Decision,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
