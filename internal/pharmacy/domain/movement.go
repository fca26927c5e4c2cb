package domain

import (
	"strings"
	"time"
)

// MovementType is the persisted discriminator of a movement
type MovementType string

const (
	TypeEntrada MovementType = "ENTRADA"
	TypeSaida   MovementType = "SAIDA"
	TypeAjuste  MovementType = "AJUSTE"
	TypeEstorno MovementType = "ESTORNO"
)

// Valid reports whether t is one of the four movement types
func (t MovementType) Valid() bool {
	switch t {
	case TypeEntrada, TypeSaida, TypeAjuste, TypeEstorno:
		return true
	}
	return false
}

// Direction of a manual adjustment
type Direction string

const (
	Increase Direction = "INCREASE"
	Decrease Direction = "DECREASE"
)

// Kind is the closed set of movement variants. Only the four types in this
// file implement it.
type Kind interface {
	Type() MovementType
	isKind()
}

// Entrada is an inflow. With NewBatch set the lot is found or created;
// otherwise the request must name an existing batch.
type Entrada struct {
	NewBatch *NewBatchInput
	Reason   string
}

// Saida is an outflow. It is rejected outright when stock is short.
type Saida struct {
	Reason string
}

// Ajuste is a manual correction in either direction
type Ajuste struct {
	Direction Direction
	Reason    string
}

// Estorno reverses an earlier movement by appending its negation
type Estorno struct {
	OriginalMovementID string
	Reason             string
}

func (Entrada) Type() MovementType { return TypeEntrada }
func (Saida) Type() MovementType   { return TypeSaida }
func (Ajuste) Type() MovementType  { return TypeAjuste }
func (Estorno) Type() MovementType { return TypeEstorno }

func (Entrada) isKind() {}
func (Saida) isKind()   {}
func (Ajuste) isKind()  {}
func (Estorno) isKind() {}

// MovementRequest is the input of the engine. For Estorno the quantity,
// medicine and batch come from the original movement; BatchID, if given,
// must match it.
type MovementRequest struct {
	Kind       Kind
	MedicineID string
	BatchID    string
	Quantity   int
}

// Movement is one immutable ledger entry. IsReversed is the only field that
// ever changes, and only from false to true.
type Movement struct {
	ID                 string       `db:"id" json:"id"`
	Type               MovementType `db:"type" json:"type"`
	MedicineID         string       `db:"medicine_id" json:"medicine_id"`
	BatchID            string       `db:"batch_id" json:"batch_id"`
	SignedQuantity     int          `db:"signed_quantity" json:"signed_quantity"`
	QuantityBefore     int          `db:"quantity_before" json:"quantity_before"`
	QuantityAfter      int          `db:"quantity_after" json:"quantity_after"`
	Reason             *string      `db:"reason" json:"reason,omitempty"`
	ActorID            string       `db:"actor_id" json:"actor_id"`
	ActorName          string       `db:"actor_name" json:"actor_name"`
	ActorRole          string       `db:"actor_role" json:"actor_role"`
	OriginalMovementID *string      `db:"original_movement_id" json:"original_movement_id,omitempty"`
	IsReversed         bool         `db:"is_reversed" json:"is_reversed"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
}

// MovementFilter narrows listMovements. To is exclusive.
type MovementFilter struct {
	MedicineID string
	BatchID    string
	Type       MovementType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Default and maximum page sizes for listMovements
const (
	DefaultMovementLimit = 50
	MaxMovementLimit     = 500
)

// Normalize clamps paging to sane bounds
func (f *MovementFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultMovementLimit
	}
	if f.Limit > MaxMovementLimit {
		f.Limit = MaxMovementLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// ReasonPtr returns nil for a blank reason
func ReasonPtr(reason string) *string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil
	}
	return &reason
}
