package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Catalog events
	EventMedicineCreated     = "pharmacy.medicine.created"
	EventMedicineUpdated     = "pharmacy.medicine.updated"
	EventMedicineActivated   = "pharmacy.medicine.activated"
	EventMedicineDeactivated = "pharmacy.medicine.deactivated"

	// Ledger events
	EventBatchCreated     = "pharmacy.batch.created"
	EventMovementApplied  = "pharmacy.movement.applied"
	EventMovementReversed = "pharmacy.movement.reversed"
)

// Exchange names
const (
	ExchangePharmacyEvents = "pharmacy.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Catalog Events

// MedicineChangedEvent is published on every catalog mutation
type MedicineChangedEvent struct {
	MedicineID   string `json:"medicine_id"`
	Name         string `json:"name"`
	Presentation string `json:"presentation"`
	Unit         string `json:"unit"`
	MinStock     *int   `json:"min_stock,omitempty"`
	IsActive     bool   `json:"is_active"`
	PerformedBy  string `json:"performed_by"`
}

// Ledger Events

// BatchCreatedEvent is published when a new lot is registered
type BatchCreatedEvent struct {
	BatchID    string    `json:"batch_id"`
	MedicineID string    `json:"medicine_id"`
	LotCode    string    `json:"lot_code"`
	ExpiryDate time.Time `json:"expiry_date"`
	CreatedBy  string    `json:"created_by"`
}

// MovementEvent is published after a movement commits
type MovementEvent struct {
	MovementID         string    `json:"movement_id"`
	Type               string    `json:"type"`
	MedicineID         string    `json:"medicine_id"`
	BatchID            string    `json:"batch_id"`
	SignedQuantity     int       `json:"signed_quantity"`
	QuantityBefore     int       `json:"quantity_before"`
	QuantityAfter      int       `json:"quantity_after"`
	OriginalMovementID string    `json:"original_movement_id,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	ActorID            string    `json:"actor_id"`
	ActorRole          string    `json:"actor_role"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
