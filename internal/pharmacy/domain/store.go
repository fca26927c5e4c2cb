package domain

import (
	"context"
	"time"
)

// TxManager runs fn as one atomic unit. Stores called with the context
// handed to fn join that unit.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MedicineStore persists the catalog
type MedicineStore interface {
	CreateMedicine(ctx context.Context, m *Medicine) error
	// GetMedicine fails with MedicineNotFound
	GetMedicine(ctx context.Context, id string) (*Medicine, error)
	// UpdateMedicine fails with MedicineNotFound
	UpdateMedicine(ctx context.Context, m *Medicine) error
	ListMedicines(ctx context.Context, f MedicineFilter) ([]*Medicine, error)
}

// BatchStore persists lots. Only UpdateBatchQuantity touches quantity.
type BatchStore interface {
	// CreateBatchIfAbsent inserts b unless the (medicine, lot code) pair
	// exists. It returns the stored batch and whether it was created.
	CreateBatchIfAbsent(ctx context.Context, b *Batch) (*Batch, bool, error)
	// GetBatch fails with BatchNotFound
	GetBatch(ctx context.Context, id string) (*Batch, error)
	// LockBatch reads the batch and holds it against other writers until
	// the surrounding transaction ends
	LockBatch(ctx context.Context, id string) (*Batch, error)
	// FindBatchByLot fails with BatchNotFound
	FindBatchByLot(ctx context.Context, medicineID, lotCode string) (*Batch, error)
	// UpdateBatchQuantity writes quantity if the stored version still
	// equals expectedVersion, bumping it. A stale version is
	// ConcurrentModification; a negative quantity is NegativeResultRejected.
	UpdateBatchQuantity(ctx context.Context, id string, expectedVersion, quantity int, at time.Time) (*Batch, error)
	ListBatches(ctx context.Context, f BatchFilter) ([]*Batch, error)
	ListBatchesByMedicine(ctx context.Context, medicineID string) ([]*Batch, error)
}

// MovementStore is the append-only ledger
type MovementStore interface {
	AppendMovement(ctx context.Context, m *Movement) error
	// GetMovement fails with MovementNotFound
	GetMovement(ctx context.Context, id string) (*Movement, error)
	// LockMovement is GetMovement holding the row until the transaction ends
	LockMovement(ctx context.Context, id string) (*Movement, error)
	// MarkReversed flips is_reversed false to true; AlreadyReversed if it
	// was already set
	MarkReversed(ctx context.Context, id string) error
	// ListMovements returns a page, newest first, and the total match count
	ListMovements(ctx context.Context, f MovementFilter) ([]*Movement, int64, error)
	// SumSignedQuantity is the ledger balance of a batch
	SumSignedQuantity(ctx context.Context, batchID string) (int, error)
}
