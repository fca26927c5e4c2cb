// Package repository implements the ledger stores on PostgreSQL.
//
// Every method reads its handle from database.Querier(ctx), so calls made
// inside database.InTx share the caller's transaction.
package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/pkg/database"
)

const (
	medicinesTable = "medicines"
	batchesTable   = "batches"
	movementsTable = "movements"
)

// Constraint names from the schema the repositories react to
const (
	constraintQuantityNonNegative = "batches_quantity_non_negative"
	constraintOriginalMovement    = "movements_original_movement_key"
	constraintMedicineFK          = "batches_medicine_id_fkey"
)

var tracer = otel.Tracer("github.com/medflow/pharmacy-ledger/internal/pharmacy/repository")

// builder produces $n placeholders for lib/pq
var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// NewStores wires the three repositories on one database. The DB itself is
// the transaction manager.
func NewStores(db *database.DB) (domain.TxManager, *MedicineRepository, *BatchRepository, *MovementRepository) {
	return db, NewMedicineRepository(db), NewBatchRepository(db), NewMovementRepository(db)
}

// validID filters out ids PostgreSQL would reject as malformed UUIDs, so a
// bad id reads as not found instead of a driver error
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}

// mapWriteError turns driver errors on a batch write into ledger errors
func mapWriteError(err error, batchID string) error {
	if err == nil {
		return nil
	}
	if database.IsTransientConflict(err) {
		return domain.ConcurrentModification(batchID)
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr.WithCause(err)
	}
	return err
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "repository."+name, trace.WithAttributes(attrs...))
}

func buildErr(what string, err error) error {
	return fmt.Errorf("build %s query: %w", what, err)
}
