package repository

import (
	"context"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/pkg/database"
)

const batchColumns = `id, medicine_id, lot_code, expiry_date, quantity, version,
	created_at, created_by, created_by_name, updated_at`

// BatchRepository handles batch persistence. Quantity is only ever written
// by UpdateBatchQuantity.
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

var _ domain.BatchStore = (*BatchRepository)(nil)

// CreateBatchIfAbsent inserts the batch unless its lot is already registered
// for the medicine, in which case the stored row is returned
func (r *BatchRepository) CreateBatchIfAbsent(ctx context.Context, b *domain.Batch) (*domain.Batch, bool, error) {
	if !validID(b.MedicineID) {
		return nil, false, domain.MedicineNotFound(b.MedicineID)
	}

	// expiry_date is a DATE; send the calendar date so the session
	// timezone cannot shift it
	query := `
		INSERT INTO batches (
			id, medicine_id, lot_code, expiry_date, quantity, version,
			created_at, created_by, created_by_name, updated_at
		) VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (medicine_id, lot_code) DO NOTHING
		RETURNING ` + batchColumns

	var created domain.Batch
	err := r.db.Querier(ctx).GetContext(ctx, &created, query,
		b.ID, b.MedicineID, b.LotCode, b.ExpiryDate.Format(domain.DateLayout), b.Quantity, b.Version,
		b.CreatedAt, b.CreatedBy, b.CreatedByName, b.UpdatedAt,
	)
	switch {
	case err == nil:
		return &created, true, nil
	case isNoRows(err):
		existing, err := r.FindBatchByLot(ctx, b.MedicineID, b.LotCode)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case database.IsForeignKeyViolation(err, constraintMedicineFK):
		return nil, false, domain.MedicineNotFound(b.MedicineID)
	case database.IsCheckViolation(err, "batches_lot_code_not_blank"):
		return nil, false, domain.InvalidBatchData("lot_code", "lot code is required")
	default:
		return nil, false, mapWriteError(err, "")
	}
}

// GetBatch gets a batch by ID
func (r *BatchRepository) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	return r.get(ctx, id, false)
}

// LockBatch reads the batch with FOR UPDATE. Outside a transaction the
// lock is released as soon as the statement ends.
func (r *BatchRepository) LockBatch(ctx context.Context, id string) (*domain.Batch, error) {
	return r.get(ctx, id, true)
}

func (r *BatchRepository) get(ctx context.Context, id string, forUpdate bool) (*domain.Batch, error) {
	if !validID(id) {
		return nil, domain.BatchNotFound(id)
	}

	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var b domain.Batch
	if err := r.db.Querier(ctx).GetContext(ctx, &b, query, id); err != nil {
		if isNoRows(err) {
			return nil, domain.BatchNotFound(id)
		}
		return nil, mapWriteError(err, id)
	}
	return &b, nil
}

// FindBatchByLot finds a batch by its medicine and exact lot code
func (r *BatchRepository) FindBatchByLot(ctx context.Context, medicineID, lotCode string) (*domain.Batch, error) {
	if !validID(medicineID) {
		return nil, domain.BatchNotFound(lotCode)
	}

	var b domain.Batch
	query := `SELECT ` + batchColumns + ` FROM batches WHERE medicine_id = $1 AND lot_code = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &b, query, medicineID, lotCode); err != nil {
		if isNoRows(err) {
			return nil, domain.BatchNotFound(lotCode)
		}
		return nil, err
	}
	return &b, nil
}

// UpdateBatchQuantity writes the new quantity when the row still carries
// expectedVersion
func (r *BatchRepository) UpdateBatchQuantity(ctx context.Context, id string, expectedVersion, quantity int, at time.Time) (*domain.Batch, error) {
	ctx, span := startSpan(ctx, "UpdateBatchQuantity",
		attribute.String("batch.id", id),
		attribute.Int("batch.version", expectedVersion),
	)
	defer span.End()

	if !validID(id) {
		return nil, domain.BatchNotFound(id)
	}

	query := `
		UPDATE batches SET quantity = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2
		RETURNING ` + batchColumns

	var b domain.Batch
	err := r.db.Querier(ctx).GetContext(ctx, &b, query, id, expectedVersion, quantity, at)
	switch {
	case err == nil:
		return &b, nil
	case isNoRows(err):
		// Either the row is gone or someone bumped the version first
		if _, getErr := r.GetBatch(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ConcurrentModification(id)
	case database.IsCheckViolation(err, constraintQuantityNonNegative):
		// The current value is not known here; report the rejected result
		return nil, domain.NegativeResultRejected(0, quantity)
	case database.IsNumericOutOfRange(err):
		return nil, domain.QuantityOverflow(0, quantity)
	default:
		span.RecordError(err)
		return nil, mapWriteError(err, id)
	}
}

// ListBatches lists batches ordered by expiry then lot code
func (r *BatchRepository) ListBatches(ctx context.Context, f domain.BatchFilter) ([]*domain.Batch, error) {
	q := builder.
		Select(prefixed("b", batchColumns)).
		From(batchesTable + " b").
		Join(medicinesTable + " m ON m.id = b.medicine_id")

	if f.MedicineID != "" {
		if !validID(f.MedicineID) {
			return []*domain.Batch{}, nil
		}
		q = q.Where(squirrel.Eq{"b.medicine_id": f.MedicineID})
	}
	if !f.IncludeInactive {
		q = q.Where(squirrel.Eq{"m.is_active": true})
	}
	if search := strings.TrimSpace(f.SearchTerm); search != "" {
		pattern := "%" + search + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"b.lot_code": pattern},
			squirrel.ILike{"m.name": pattern},
		})
	}
	q = q.OrderBy("b.expiry_date", "b.lot_code")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, buildErr("batches", err)
	}

	batches := []*domain.Batch{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListBatchesByMedicine lists every batch of a medicine
func (r *BatchRepository) ListBatchesByMedicine(ctx context.Context, medicineID string) ([]*domain.Batch, error) {
	batches := []*domain.Batch{}
	if !validID(medicineID) {
		return batches, nil
	}

	query := `
		SELECT ` + batchColumns + ` FROM batches
		WHERE medicine_id = $1
		ORDER BY expiry_date, lot_code
	`
	if err := r.db.Querier(ctx).SelectContext(ctx, &batches, query, medicineID); err != nil {
		return nil, err
	}
	return batches, nil
}

// prefixed qualifies a comma separated column list with a table alias
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
