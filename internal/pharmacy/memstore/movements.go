package memstore

import (
	"context"
	"sort"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
)

func (s *Store) AppendMovement(ctx context.Context, m *domain.Movement) error {
	return s.run(ctx, func(t *tx) error {
		if _, ok := s.batches[m.BatchID]; !ok {
			return domain.BatchNotFound(m.BatchID)
		}
		if m.OriginalMovementID != nil {
			orig := *m.OriginalMovementID
			if _, ok := s.reversals[orig]; ok {
				return domain.AlreadyReversed(orig)
			}
			s.reversals[orig] = m.ID
			t.record(func() { delete(s.reversals, orig) })
		}

		c := *m
		s.byID[m.ID] = len(s.movements)
		s.movements = append(s.movements, &c)
		t.record(func() {
			delete(s.byID, m.ID)
			s.movements = s.movements[:len(s.movements)-1]
		})
		return nil
	})
}

func (s *Store) GetMovement(ctx context.Context, id string) (*domain.Movement, error) {
	var out *domain.Movement
	err := s.run(ctx, func(*tx) error {
		i, ok := s.byID[id]
		if !ok {
			return domain.MovementNotFound(id)
		}
		c := *s.movements[i]
		out = &c
		return nil
	})
	return out, err
}

// LockMovement is GetMovement; the transaction already holds the store mutex
func (s *Store) LockMovement(ctx context.Context, id string) (*domain.Movement, error) {
	return s.GetMovement(ctx, id)
}

func (s *Store) MarkReversed(ctx context.Context, id string) error {
	return s.run(ctx, func(t *tx) error {
		i, ok := s.byID[id]
		if !ok {
			return domain.MovementNotFound(id)
		}
		m := s.movements[i]
		if m.IsReversed {
			return domain.AlreadyReversed(id)
		}
		m.IsReversed = true
		t.record(func() { m.IsReversed = false })
		return nil
	})
}

func (s *Store) ListMovements(ctx context.Context, f domain.MovementFilter) ([]*domain.Movement, int64, error) {
	f.Normalize()

	var matched []*domain.Movement
	err := s.run(ctx, func(*tx) error {
		for i := len(s.movements) - 1; i >= 0; i-- {
			m := s.movements[i]
			if f.MedicineID != "" && m.MedicineID != f.MedicineID {
				continue
			}
			if f.BatchID != "" && m.BatchID != f.BatchID {
				continue
			}
			if f.Type != "" && m.Type != f.Type {
				continue
			}
			if f.From != nil && m.CreatedAt.Before(*f.From) {
				continue
			}
			if f.To != nil && !m.CreatedAt.Before(*f.To) {
				continue
			}
			c := *m
			matched = append(matched, &c)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	// Newest first; reverse append order breaks timestamp ties
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return []*domain.Movement{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[f.Offset:end], total, nil
}

func (s *Store) SumSignedQuantity(ctx context.Context, batchID string) (int, error) {
	var sum int
	err := s.run(ctx, func(*tx) error {
		for _, m := range s.movements {
			if m.BatchID == batchID {
				sum += m.SignedQuantity
			}
		}
		return nil
	})
	return sum, err
}
