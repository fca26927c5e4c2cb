package events

import (
	"context"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/messaging"
)

// ServiceName is the event source of everything published here
const ServiceName = "pharmacy-service"

// PharmacyEventPublisher publishes catalog and ledger events. A nil
// publisher is valid and drops every event.
type PharmacyEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewPharmacyEventPublisher creates a new pharmacy event publisher
func NewPharmacyEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*PharmacyEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangePharmacyEvents, ServiceName, log)
	if err != nil {
		return nil, err
	}

	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher
func NewWithPublisher(publisher *messaging.Publisher, log *logger.Logger) *PharmacyEventPublisher {
	return &PharmacyEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishMovementApplied publishes pharmacy.movement.applied, or
// pharmacy.movement.reversed for an ESTORNO
func (p *PharmacyEventPublisher) PublishMovementApplied(ctx context.Context, m *domain.Movement) {
	if p == nil {
		return
	}

	data := messaging.MovementEvent{
		MovementID:     m.ID,
		Type:           string(m.Type),
		MedicineID:     m.MedicineID,
		BatchID:        m.BatchID,
		SignedQuantity: m.SignedQuantity,
		QuantityBefore: m.QuantityBefore,
		QuantityAfter:  m.QuantityAfter,
		ActorID:        m.ActorID,
		ActorRole:      m.ActorRole,
		OccurredAt:     m.CreatedAt,
	}
	if m.Reason != nil {
		data.Reason = *m.Reason
	}

	eventType := messaging.EventMovementApplied
	if m.OriginalMovementID != nil {
		data.OriginalMovementID = *m.OriginalMovementID
		eventType = messaging.EventMovementReversed
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("movement_id", m.ID).Msg("failed to publish movement event")
	}
}

// PublishBatchCreated publishes pharmacy.batch.created
func (p *PharmacyEventPublisher) PublishBatchCreated(ctx context.Context, b *domain.Batch) {
	if p == nil {
		return
	}

	data := messaging.BatchCreatedEvent{
		BatchID:    b.ID,
		MedicineID: b.MedicineID,
		LotCode:    b.LotCode,
		ExpiryDate: b.ExpiryDate,
		CreatedBy:  b.CreatedBy,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchCreated, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", b.ID).Msg("failed to publish batch created event")
	}
}

// PublishMedicineChanged publishes one of the pharmacy.medicine.* events
func (p *PharmacyEventPublisher) PublishMedicineChanged(ctx context.Context, eventType string, m *domain.Medicine, a *actor.Actor) {
	if p == nil {
		return
	}

	data := messaging.MedicineChangedEvent{
		MedicineID:   m.ID,
		Name:         m.Name,
		Presentation: m.Presentation,
		Unit:         m.Unit,
		MinStock:     m.MinStock,
		IsActive:     m.IsActive,
		PerformedBy:  a.ID,
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("medicine_id", m.ID).Str("event_type", eventType).Msg("failed to publish medicine event")
	}
}
