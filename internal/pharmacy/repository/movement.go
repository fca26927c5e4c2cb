package repository

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/pkg/database"
)

const movementColumns = `id, type, medicine_id, batch_id, signed_quantity, quantity_before, quantity_after,
	reason, actor_id, actor_name, actor_role, original_movement_id, is_reversed, created_at`

// MovementRepository is the append-only ledger. Rows are never updated
// except for the reversed flag; a trigger enforces it.
type MovementRepository struct {
	db *database.DB
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

var _ domain.MovementStore = (*MovementRepository)(nil)

// AppendMovement inserts a ledger entry
func (r *MovementRepository) AppendMovement(ctx context.Context, m *domain.Movement) error {
	ctx, span := startSpan(ctx, "AppendMovement",
		attribute.String("movement.id", m.ID),
		attribute.String("movement.type", string(m.Type)),
	)
	defer span.End()

	query := `
		INSERT INTO movements (
			id, type, medicine_id, batch_id, signed_quantity, quantity_before, quantity_after,
			reason, actor_id, actor_name, actor_role, original_movement_id, is_reversed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Querier(ctx).ExecContext(ctx, query,
		m.ID, m.Type, m.MedicineID, m.BatchID, m.SignedQuantity, m.QuantityBefore, m.QuantityAfter,
		m.Reason, m.ActorID, m.ActorName, m.ActorRole, m.OriginalMovementID, m.IsReversed, m.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		if database.IsUniqueViolation(err, constraintOriginalMovement) && m.OriginalMovementID != nil {
			return domain.AlreadyReversed(*m.OriginalMovementID)
		}
		return mapWriteError(err, m.BatchID)
	}
	return nil
}

// GetMovement gets a movement by ID
func (r *MovementRepository) GetMovement(ctx context.Context, id string) (*domain.Movement, error) {
	return r.get(ctx, id, false)
}

// LockMovement reads the movement with FOR UPDATE
func (r *MovementRepository) LockMovement(ctx context.Context, id string) (*domain.Movement, error) {
	return r.get(ctx, id, true)
}

func (r *MovementRepository) get(ctx context.Context, id string, forUpdate bool) (*domain.Movement, error) {
	if !validID(id) {
		return nil, domain.MovementNotFound(id)
	}

	query := `SELECT ` + movementColumns + ` FROM movements WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var m domain.Movement
	if err := r.db.Querier(ctx).GetContext(ctx, &m, query, id); err != nil {
		if isNoRows(err) {
			return nil, domain.MovementNotFound(id)
		}
		return nil, mapWriteError(err, "")
	}
	return &m, nil
}

// MarkReversed flips is_reversed once
func (r *MovementRepository) MarkReversed(ctx context.Context, id string) error {
	if !validID(id) {
		return domain.MovementNotFound(id)
	}

	query := `UPDATE movements SET is_reversed = TRUE WHERE id = $1 AND is_reversed = FALSE`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return mapWriteError(err, "")
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		if _, err := r.GetMovement(ctx, id); err != nil {
			return err
		}
		return domain.AlreadyReversed(id)
	}
	return nil
}

// ListMovements returns a page, newest first, and the total match count
func (r *MovementRepository) ListMovements(ctx context.Context, f domain.MovementFilter) ([]*domain.Movement, int64, error) {
	f.Normalize()

	where := squirrel.And{}
	if f.MedicineID != "" {
		if !validID(f.MedicineID) {
			return []*domain.Movement{}, 0, nil
		}
		where = append(where, squirrel.Eq{"medicine_id": f.MedicineID})
	}
	if f.BatchID != "" {
		if !validID(f.BatchID) {
			return []*domain.Movement{}, 0, nil
		}
		where = append(where, squirrel.Eq{"batch_id": f.BatchID})
	}
	if f.Type != "" {
		where = append(where, squirrel.Eq{"type": f.Type})
	}
	if f.From != nil {
		where = append(where, squirrel.GtOrEq{"created_at": *f.From})
	}
	if f.To != nil {
		where = append(where, squirrel.Lt{"created_at": *f.To})
	}

	countQuery, countArgs, err := builder.Select("COUNT(*)").From(movementsTable).Where(where).ToSql()
	if err != nil {
		return nil, 0, buildErr("movement count", err)
	}

	var total int64
	if err := r.db.Querier(ctx).GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, err
	}

	query, args, err := builder.
		Select(movementColumns).
		From(movementsTable).
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(f.Limit)).
		Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, buildErr("movements", err)
	}

	movements := []*domain.Movement{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &movements, query, args...); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// SumSignedQuantity is the ledger balance of a batch
func (r *MovementRepository) SumSignedQuantity(ctx context.Context, batchID string) (int, error) {
	if !validID(batchID) {
		return 0, nil
	}

	var sum sql.NullInt64
	query := `SELECT SUM(signed_quantity) FROM movements WHERE batch_id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &sum, query, batchID); err != nil {
		return 0, err
	}
	if !sum.Valid {
		return 0, nil
	}
	return int(sum.Int64), nil
}
