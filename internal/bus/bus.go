package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Publisher delivers the domain events buffered on a completed assessment.
// Each event type maps to a fixed topic; unknown types are logged and
// skipped rather than failing the batch.
type Publisher struct {
	bus domain.EventBus
}

// NewPublisher creates an event publisher on top of a bus.
func NewPublisher(bus domain.EventBus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishAssessmentEvents drains an assessment's domain events onto the bus
// and clears the buffer. Events already published before a failure are not
// retracted; downstream consumers must tolerate duplicates.
func (p *Publisher) PublishAssessmentEvents(ctx context.Context, a *domain.RiskAssessment) error {
	for _, event := range a.DomainEvents() {
		topic, ok := topicFor(event.Type)
		if !ok {
			slog.Warn("unroutable domain event",
				"event_type", event.Type,
				"assessment_id", event.AssessmentID,
			)
			continue
		}

		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
		}
		if err := p.bus.Publish(ctx, event.TenantID, topic, payload); err != nil {
			return fmt.Errorf("failed to publish %s: %w", event.Type, err)
		}
	}

	a.ClearDomainEvents()
	return nil
}

func topicFor(eventType string) (string, bool) {
	switch eventType {
	case domain.EventAssessmentCompleted:
		return domain.TopicAssessmentCompleted, true
	case domain.EventHighRiskDetected:
		return domain.TopicHighRiskDetected, true
	default:
		return "", false
	}
}
