package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/memstore"
	"github.com/medflow/pharmacy-ledger/pkg/testutil"
)

var (
	errAbort = errors.New("abort")
	now      = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

func seed(t *testing.T) (*memstore.Store, *domain.Medicine, *domain.Batch) {
	t.Helper()
	ctx := context.Background()
	fixtures := testutil.NewFixtureFactory()
	s := memstore.New()

	m := fixtures.Medicine()
	require.NoError(t, s.CreateMedicine(ctx, m))
	b, created, err := s.CreateBatchIfAbsent(ctx, fixtures.Batch(m.ID))
	require.NoError(t, err)
	require.True(t, created)
	return s, m, b
}

func movement(m *domain.Medicine, b *domain.Batch, before, delta int) *domain.Movement {
	return &domain.Movement{
		ID:             uuid.New().String(),
		Type:           domain.TypeEntrada,
		MedicineID:     m.ID,
		BatchID:        b.ID,
		SignedQuantity: delta,
		QuantityBefore: before,
		QuantityAfter:  before + delta,
		ActorID:        "u-1",
		CreatedAt:      now,
	}
}

func TestInTx_CommitKeepsWrites(t *testing.T) {
	s, m, b := seed(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.UpdateBatchQuantity(ctx, b.ID, b.Version, 10, now); err != nil {
			return err
		}
		return s.AppendMovement(ctx, movement(m, b, 0, 10))
	})
	require.NoError(t, err)

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Quantity)
	assert.Equal(t, b.Version+1, got.Version)

	sum, err := s.SumSignedQuantity(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, sum)
}

func TestInTx_FailureUndoesEveryWrite(t *testing.T) {
	s, m, b := seed(t)
	ctx := context.Background()
	fixtures := testutil.NewFixtureFactory()

	renamed := *m
	renamed.Name = "Renamed"
	extra := fixtures.Batch(m.ID)

	err := s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.UpdateBatchQuantity(ctx, b.ID, b.Version, 25, now); err != nil {
			return err
		}
		if err := s.AppendMovement(ctx, movement(m, b, 0, 25)); err != nil {
			return err
		}
		if err := s.UpdateMedicine(ctx, &renamed); err != nil {
			return err
		}
		if _, _, err := s.CreateBatchIfAbsent(ctx, extra); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)
	assert.Equal(t, b.Version, got.Version)

	sum, err := s.SumSignedQuantity(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sum)

	_, total, err := s.ListMovements(ctx, domain.MovementFilter{BatchID: b.ID})
	require.NoError(t, err)
	assert.Zero(t, total)

	med, err := s.GetMedicine(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Name, med.Name)

	_, err = s.FindBatchByLot(ctx, m.ID, extra.LotCode)
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
	_, err = s.GetBatch(ctx, extra.ID)
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}

func TestInTx_FailedReversalFreesTheOriginal(t *testing.T) {
	s, m, b := seed(t)
	ctx := context.Background()

	orig := movement(m, b, 0, 5)
	require.NoError(t, s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.UpdateBatchQuantity(ctx, b.ID, b.Version, 5, now); err != nil {
			return err
		}
		return s.AppendMovement(ctx, orig)
	}))

	reversal := func() *domain.Movement {
		rev := movement(m, b, 5, -5)
		rev.Type = domain.TypeEstorno
		rev.OriginalMovementID = &orig.ID
		return rev
	}

	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.AppendMovement(ctx, reversal()); err != nil {
			return err
		}
		if err := s.MarkReversed(ctx, orig.ID); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := s.GetMovement(ctx, orig.ID)
	require.NoError(t, err)
	assert.False(t, got.IsReversed)

	// The original can still be reversed exactly once
	require.NoError(t, s.InTx(ctx, func(ctx context.Context) error {
		if err := s.AppendMovement(ctx, reversal()); err != nil {
			return err
		}
		return s.MarkReversed(ctx, orig.ID)
	}))
	assert.ErrorIs(t, s.AppendMovement(ctx, reversal()), domain.ErrAlreadyReversed)
	assert.ErrorIs(t, s.MarkReversed(ctx, orig.ID), domain.ErrAlreadyReversed)
}

func TestInTx_NestedJoinsOuter(t *testing.T) {
	s, _, b := seed(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.InTx(ctx, func(ctx context.Context) error {
			_, err := s.UpdateBatchQuantity(ctx, b.ID, b.Version, 7, now)
			return err
		}); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)
}

func TestUpdateBatchQuantity_Guards(t *testing.T) {
	s, _, b := seed(t)
	ctx := context.Background()

	_, err := s.UpdateBatchQuantity(ctx, b.ID, b.Version+1, 3, now)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	_, err = s.UpdateBatchQuantity(ctx, b.ID, b.Version, -1, now)
	assert.ErrorIs(t, err, domain.ErrNegativeResultRejected)

	_, err = s.UpdateBatchQuantity(ctx, b.ID, b.Version, domain.MaxQuantity+1, now)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = s.UpdateBatchQuantity(ctx, "missing", 0, 1, now)
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)
	assert.Equal(t, b.Version, got.Version)
}
