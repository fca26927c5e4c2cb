package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	apperrors "github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/testutil"
)

var (
	testNow    = time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	testExpiry = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func batchRows(b *domain.Batch) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "medicine_id", "lot_code", "expiry_date", "quantity", "version",
		"created_at", "created_by", "created_by_name", "updated_at",
	).AddRow(b.ID, b.MedicineID, b.LotCode, b.ExpiryDate, b.Quantity, b.Version,
		b.CreatedAt, b.CreatedBy, b.CreatedByName, b.UpdatedAt)
}

func movementRows(m *domain.Movement) *sqlmock.Rows {
	return testutil.MockRows(
		"id", "type", "medicine_id", "batch_id", "signed_quantity", "quantity_before", "quantity_after",
		"reason", "actor_id", "actor_name", "actor_role", "original_movement_id", "is_reversed", "created_at",
	).AddRow(m.ID, string(m.Type), m.MedicineID, m.BatchID, m.SignedQuantity, m.QuantityBefore, m.QuantityAfter,
		nil, m.ActorID, m.ActorName, m.ActorRole, nil, m.IsReversed, m.CreatedAt)
}

func newBatch(quantity, version int) *domain.Batch {
	return &domain.Batch{
		ID:         uuid.New().String(),
		MedicineID: uuid.New().String(),
		LotCode:    "L100",
		ExpiryDate: testExpiry,
		Quantity:   quantity,
		Version:    version,
		CreatedAt:  testNow,
		CreatedBy:  "u-1",
		UpdatedAt:  testNow,
	}
}

func TestBatchRepository_UpdateBatchQuantity(t *testing.T) {
	t.Run("writes when version matches", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		b := newBatch(70, 3)
		suite.MockDB.ExpectQuery("UPDATE batches SET quantity = $3, version = version + 1, updated_at = $4").
			WithArgs(b.ID, 2, 70, testutil.AnyTime{}).
			WillReturnRows(batchRows(b))

		got, err := repo.UpdateBatchQuantity(context.Background(), b.ID, 2, 70, testNow)
		require.NoError(t, err)
		assert.Equal(t, 70, got.Quantity)
		assert.Equal(t, 3, got.Version)
	})

	t.Run("stale version is a concurrent modification", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		b := newBatch(70, 3)
		suite.MockDB.ExpectQuery("UPDATE batches SET quantity").
			WithArgs(b.ID, 2, 60, testutil.AnyTime{}).
			WillReturnRows(testutil.MockRows("id"))
		suite.MockDB.ExpectQuery("FROM batches WHERE id = $1").
			WithArgs(b.ID).
			WillReturnRows(batchRows(b))

		_, err := repo.UpdateBatchQuantity(context.Background(), b.ID, 2, 60, testNow)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrConcurrentModification))
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("missing row is not found", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		id := uuid.New().String()
		suite.MockDB.ExpectQuery("UPDATE batches SET quantity").
			WillReturnRows(testutil.MockRows("id"))
		suite.MockDB.ExpectQuery("FROM batches WHERE id = $1").
			WithArgs(id).
			WillReturnRows(testutil.MockRows("id"))

		_, err := repo.UpdateBatchQuantity(context.Background(), id, 0, 1, testNow)
		assert.True(t, errors.Is(err, domain.ErrBatchNotFound))
	})

	t.Run("check constraint is a negative result", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		suite.MockDB.ExpectQuery("UPDATE batches SET quantity").
			WillReturnError(&pq.Error{Code: "23514", Constraint: constraintQuantityNonNegative})

		_, err := repo.UpdateBatchQuantity(context.Background(), uuid.New().String(), 1, -5, testNow)
		assert.True(t, errors.Is(err, domain.ErrNegativeResultRejected))
	})

	t.Run("out of range is a quantity overflow", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		suite.MockDB.ExpectQuery("UPDATE batches SET quantity").
			WillReturnError(&pq.Error{Code: "22003"})

		_, err := repo.UpdateBatchQuantity(context.Background(), uuid.New().String(), 1, 3_000_000_000, testNow)
		assert.True(t, errors.Is(err, domain.ErrInvalidQuantity))
		assert.Equal(t, domain.CodeInvalidQuantity, apperrors.CodeOf(err))
	})

	t.Run("lock timeout is retryable", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		suite.MockDB.ExpectQuery("UPDATE batches SET quantity").
			WillReturnError(&pq.Error{Code: "55P03"})

		_, err := repo.UpdateBatchQuantity(context.Background(), uuid.New().String(), 1, 5, testNow)
		assert.True(t, errors.Is(err, domain.ErrConcurrentModification))
		assert.True(t, apperrors.IsRetryable(err))
	})
}

func TestBatchRepository_CreateBatchIfAbsent(t *testing.T) {
	t.Run("creates", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		b := newBatch(0, 0)
		suite.MockDB.ExpectQuery("ON CONFLICT (medicine_id, lot_code) DO NOTHING").
			WithArgs(b.ID, b.MedicineID, "L100", "2026-01-01", 0, 0,
				testutil.AnyTime{}, "u-1", "", testutil.AnyTime{}).
			WillReturnRows(batchRows(b))

		got, created, err := repo.CreateBatchIfAbsent(context.Background(), b)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, b.ID, got.ID)
	})

	t.Run("returns existing lot", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		existing := newBatch(40, 2)
		b := newBatch(0, 0)
		b.MedicineID = existing.MedicineID

		suite.MockDB.ExpectQuery("ON CONFLICT (medicine_id, lot_code) DO NOTHING").
			WillReturnRows(testutil.MockRows("id"))
		suite.MockDB.ExpectQuery("WHERE medicine_id = $1 AND lot_code = $2").
			WithArgs(existing.MedicineID, "L100").
			WillReturnRows(batchRows(existing))

		got, created, err := repo.CreateBatchIfAbsent(context.Background(), b)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, got.ID)
		assert.Equal(t, 40, got.Quantity)
	})

	t.Run("unknown medicine", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewBatchRepository(suite.DB)

		suite.MockDB.ExpectQuery("INSERT INTO batches").
			WillReturnError(&pq.Error{Code: "23503", Constraint: constraintMedicineFK})

		_, _, err := repo.CreateBatchIfAbsent(context.Background(), newBatch(0, 0))
		assert.True(t, errors.Is(err, domain.ErrMedicineNotFound))
	})
}

func TestBatchRepository_LockBatchInTransaction(t *testing.T) {
	suite := testutil.NewUnitTestSuite(t)
	defer suite.Cleanup()
	suite.DB.SetLockTimeout(5 * time.Second)
	repo := NewBatchRepository(suite.DB)

	b := newBatch(10, 1)
	suite.MockDB.ExpectBegin()
	suite.MockDB.ExpectLockTimeout(5000)
	suite.MockDB.ExpectQuery("FROM batches WHERE id = $1 FOR UPDATE").
		WithArgs(b.ID).
		WillReturnRows(batchRows(b))
	suite.MockDB.ExpectCommit()

	err := suite.DB.InTx(context.Background(), func(ctx context.Context) error {
		got, err := repo.LockBatch(ctx, b.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 10, got.Quantity)
		return nil
	})
	require.NoError(t, err)
}

func TestBatchRepository_InTxRollsBackOnError(t *testing.T) {
	suite := testutil.NewUnitTestSuite(t)
	defer suite.Cleanup()
	repo := NewBatchRepository(suite.DB)

	b := newBatch(10, 1)
	suite.MockDB.ExpectBegin()
	suite.MockDB.ExpectQuery("FOR UPDATE").WillReturnRows(batchRows(b))
	suite.MockDB.ExpectRollback()

	err := suite.DB.InTx(context.Background(), func(ctx context.Context) error {
		if _, err := repo.LockBatch(ctx, b.ID); err != nil {
			return err
		}
		return domain.InsufficientStock(10, 20)
	})
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
}

func TestRepositories_MalformedIDsAreNotFound(t *testing.T) {
	suite := testutil.NewUnitTestSuite(t)
	defer suite.Cleanup()
	ctx := context.Background()

	_, err := NewMedicineRepository(suite.DB).GetMedicine(ctx, "not-a-uuid")
	assert.True(t, errors.Is(err, domain.ErrMedicineNotFound))

	_, err = NewBatchRepository(suite.DB).GetBatch(ctx, "not-a-uuid")
	assert.True(t, errors.Is(err, domain.ErrBatchNotFound))

	_, err = NewMovementRepository(suite.DB).GetMovement(ctx, "not-a-uuid")
	assert.True(t, errors.Is(err, domain.ErrMovementNotFound))
}

func TestMovementRepository_AppendMovement(t *testing.T) {
	t.Run("duplicate reversal", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewMovementRepository(suite.DB)

		orig := uuid.New().String()
		suite.MockDB.ExpectExec("INSERT INTO movements").
			WillReturnError(&pq.Error{Code: "23505", Constraint: constraintOriginalMovement})

		err := repo.AppendMovement(context.Background(), &domain.Movement{
			ID:                 uuid.New().String(),
			Type:               domain.TypeEstorno,
			BatchID:            uuid.New().String(),
			SignedQuantity:     3,
			OriginalMovementID: &orig,
		})
		assert.True(t, errors.Is(err, domain.ErrAlreadyReversed))
	})

	t.Run("append-only trigger", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewMovementRepository(suite.DB)

		suite.MockDB.ExpectExec("INSERT INTO movements").
			WillReturnError(&pq.Error{Code: "P0001", Message: "movements are append-only"})

		err := repo.AppendMovement(context.Background(), &domain.Movement{ID: uuid.New().String(), Type: domain.TypeSaida})
		require.Error(t, err)
		assert.Equal(t, "CONFLICT", apperrors.CodeOf(err))
	})
}

func TestMovementRepository_MarkReversed(t *testing.T) {
	t.Run("flips once", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewMovementRepository(suite.DB)

		id := uuid.New().String()
		suite.MockDB.ExpectExec("UPDATE movements SET is_reversed = TRUE WHERE id = $1 AND is_reversed = FALSE").
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.MarkReversed(context.Background(), id))
	})

	t.Run("already reversed", func(t *testing.T) {
		suite := testutil.NewUnitTestSuite(t)
		defer suite.Cleanup()
		repo := NewMovementRepository(suite.DB)

		m := &domain.Movement{
			ID:             uuid.New().String(),
			Type:           domain.TypeSaida,
			MedicineID:     uuid.New().String(),
			BatchID:        uuid.New().String(),
			SignedQuantity: -3,
			QuantityBefore: 10,
			QuantityAfter:  7,
			ActorID:        "u-1",
			ActorRole:      "pharmacist",
			IsReversed:     true,
			CreatedAt:      testNow,
		}
		suite.MockDB.ExpectExec("UPDATE movements SET is_reversed = TRUE").
			WillReturnResult(sqlmock.NewResult(0, 0))
		suite.MockDB.ExpectQuery("FROM movements WHERE id = $1").
			WithArgs(m.ID).
			WillReturnRows(movementRows(m))

		err := repo.MarkReversed(context.Background(), m.ID)
		assert.True(t, errors.Is(err, domain.ErrAlreadyReversed))
	})
}

func TestMovementRepository_ListMovements(t *testing.T) {
	suite := testutil.NewUnitTestSuite(t)
	defer suite.Cleanup()
	repo := NewMovementRepository(suite.DB)

	m := &domain.Movement{
		ID:             uuid.New().String(),
		Type:           domain.TypeEntrada,
		MedicineID:     uuid.New().String(),
		BatchID:        uuid.New().String(),
		SignedQuantity: 100,
		QuantityAfter:  100,
		ActorID:        "u-1",
		ActorRole:      "pharmacist",
		CreatedAt:      testNow,
	}

	suite.MockDB.ExpectQuery("SELECT COUNT(*) FROM movements WHERE").
		WithArgs(m.BatchID, string(domain.TypeEntrada)).
		WillReturnRows(testutil.MockRows("count").AddRow(1))
	suite.MockDB.ExpectQuery("ORDER BY created_at DESC, id DESC LIMIT 50 OFFSET 0").
		WithArgs(m.BatchID, string(domain.TypeEntrada)).
		WillReturnRows(movementRows(m))

	items, total, err := repo.ListMovements(context.Background(), domain.MovementFilter{
		BatchID: m.BatchID,
		Type:    domain.TypeEntrada,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, 100, items[0].SignedQuantity)
}

func TestMovementRepository_SumSignedQuantity(t *testing.T) {
	suite := testutil.NewUnitTestSuite(t)
	defer suite.Cleanup()
	repo := NewMovementRepository(suite.DB)

	id := uuid.New().String()
	suite.MockDB.ExpectQuery("SELECT SUM(signed_quantity) FROM movements WHERE batch_id = $1").
		WithArgs(id).
		WillReturnRows(testutil.MockRows("sum").AddRow(nil))

	sum, err := repo.SumSignedQuantity(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, sum)
}

func TestMedicineRepository_ListMedicines(t *testing.T) {
	suite := testutil.NewUnitTestSuite(t)
	defer suite.Cleanup()
	repo := NewMedicineRepository(suite.DB)

	suite.MockDB.ExpectQuery("FROM medicines WHERE is_active = $1 AND (name ILIKE $2 OR presentation ILIKE $3) ORDER BY lower(name), id").
		WithArgs(true, "%dipi%", "%dipi%").
		WillReturnRows(testutil.MockRows(
			"id", "name", "presentation", "unit", "min_stock", "is_active",
			"created_at", "created_by", "created_by_name", "updated_at", "updated_by", "updated_by_name",
		).AddRow(uuid.New().String(), "Dipirona", "500mg", "tablet", 20, true,
			testNow, "u-1", "Ana", testNow, "u-1", "Ana"))

	medicines, err := repo.ListMedicines(context.Background(), domain.MedicineFilter{Search: "dipi"})
	require.NoError(t, err)
	require.Len(t, medicines, 1)
	require.NotNil(t, medicines[0].MinStock)
	assert.Equal(t, 20, *medicines[0].MinStock)
}
