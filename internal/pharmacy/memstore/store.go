// Package memstore keeps the ledger in process memory. The service and
// handler tests run on it; the binary always uses PostgreSQL.
//
// A transaction holds the store mutex for its whole duration and records an
// undo entry for every write, so a failed unit leaves no trace.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
)

type txKey struct{}

type tx struct {
	undo []func()
}

func (t *tx) record(fn func()) {
	if t != nil {
		t.undo = append(t.undo, fn)
	}
}

// Store implements the medicine, batch and movement stores plus TxManager
type Store struct {
	mu        sync.Mutex
	medicines map[string]*domain.Medicine
	batches   map[string]*domain.Batch
	lots      map[string]string // medicine id + lot code -> batch id
	movements []*domain.Movement
	byID      map[string]int
	reversals map[string]string // original id -> reversal id
}

var (
	_ domain.TxManager     = (*Store)(nil)
	_ domain.MedicineStore = (*Store)(nil)
	_ domain.BatchStore    = (*Store)(nil)
	_ domain.MovementStore = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		medicines: make(map[string]*domain.Medicine),
		batches:   make(map[string]*domain.Batch),
		lots:      make(map[string]string),
		byID:      make(map[string]int),
		reversals: make(map[string]string),
	}
}

// InTx implements domain.TxManager. Nested calls join the outer unit.
func (s *Store) InTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		return err
	}
	return nil
}

// run executes fn under the store mutex unless ctx already holds it
func (s *Store) run(ctx context.Context, fn func(t *tx) error) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(nil)
}

func lotKey(medicineID, lotCode string) string {
	return medicineID + "\x00" + lotCode
}

// Medicines

func (s *Store) CreateMedicine(ctx context.Context, m *domain.Medicine) error {
	return s.run(ctx, func(t *tx) error {
		c := *m
		s.medicines[m.ID] = &c
		t.record(func() { delete(s.medicines, m.ID) })
		return nil
	})
}

func (s *Store) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	var out *domain.Medicine
	err := s.run(ctx, func(*tx) error {
		m, ok := s.medicines[id]
		if !ok {
			return domain.MedicineNotFound(id)
		}
		c := *m
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) UpdateMedicine(ctx context.Context, m *domain.Medicine) error {
	return s.run(ctx, func(t *tx) error {
		prev, ok := s.medicines[m.ID]
		if !ok {
			return domain.MedicineNotFound(m.ID)
		}
		c := *m
		s.medicines[m.ID] = &c
		t.record(func() { s.medicines[m.ID] = prev })
		return nil
	})
}

func (s *Store) ListMedicines(ctx context.Context, f domain.MedicineFilter) ([]*domain.Medicine, error) {
	var out []*domain.Medicine
	err := s.run(ctx, func(*tx) error {
		search := strings.ToLower(strings.TrimSpace(f.Search))
		for _, m := range s.medicines {
			if !m.IsActive && !f.IncludeInactive {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(m.Name), search) &&
				!strings.Contains(strings.ToLower(m.Presentation), search) {
				continue
			}
			c := *m
			out = append(out, &c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !strings.EqualFold(out[i].Name, out[j].Name) {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// Batches

func (s *Store) CreateBatchIfAbsent(ctx context.Context, b *domain.Batch) (*domain.Batch, bool, error) {
	var out *domain.Batch
	var created bool
	err := s.run(ctx, func(t *tx) error {
		if _, ok := s.medicines[b.MedicineID]; !ok {
			return domain.MedicineNotFound(b.MedicineID)
		}
		key := lotKey(b.MedicineID, b.LotCode)
		if id, ok := s.lots[key]; ok {
			c := *s.batches[id]
			out = &c
			return nil
		}

		c := *b
		s.batches[b.ID] = &c
		s.lots[key] = b.ID
		t.record(func() {
			delete(s.batches, b.ID)
			delete(s.lots, key)
		})

		cp := c
		out, created = &cp, true
		return nil
	})
	return out, created, err
}

func (s *Store) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	var out *domain.Batch
	err := s.run(ctx, func(*tx) error {
		b, ok := s.batches[id]
		if !ok {
			return domain.BatchNotFound(id)
		}
		c := *b
		out = &c
		return nil
	})
	return out, err
}

// LockBatch is GetBatch; the transaction already holds the store mutex
func (s *Store) LockBatch(ctx context.Context, id string) (*domain.Batch, error) {
	return s.GetBatch(ctx, id)
}

func (s *Store) FindBatchByLot(ctx context.Context, medicineID, lotCode string) (*domain.Batch, error) {
	var out *domain.Batch
	err := s.run(ctx, func(*tx) error {
		id, ok := s.lots[lotKey(medicineID, lotCode)]
		if !ok {
			return domain.BatchNotFound(lotCode)
		}
		c := *s.batches[id]
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) UpdateBatchQuantity(ctx context.Context, id string, expectedVersion, quantity int, at time.Time) (*domain.Batch, error) {
	var out *domain.Batch
	err := s.run(ctx, func(t *tx) error {
		b, ok := s.batches[id]
		if !ok {
			return domain.BatchNotFound(id)
		}
		if b.Version != expectedVersion {
			return domain.ConcurrentModification(id)
		}
		if quantity < 0 {
			return domain.NegativeResultRejected(b.Quantity, quantity-b.Quantity)
		}
		if quantity > domain.MaxQuantity {
			return domain.QuantityOverflow(b.Quantity, quantity-b.Quantity)
		}

		prev := *b
		b.Quantity = quantity
		b.Version++
		b.UpdatedAt = at
		t.record(func() { *s.batches[id] = prev })

		c := *b
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) ListBatches(ctx context.Context, f domain.BatchFilter) ([]*domain.Batch, error) {
	var out []*domain.Batch
	err := s.run(ctx, func(*tx) error {
		search := strings.ToLower(strings.TrimSpace(f.SearchTerm))
		for _, b := range s.batches {
			if f.MedicineID != "" && b.MedicineID != f.MedicineID {
				continue
			}
			m := s.medicines[b.MedicineID]
			if m != nil && !m.IsActive && !f.IncludeInactive {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(b.LotCode), search) &&
				(m == nil || !strings.Contains(strings.ToLower(m.Name), search)) {
				continue
			}
			c := *b
			out = append(out, &c)
		}
		return nil
	})
	sortBatches(out)
	return out, err
}

func (s *Store) ListBatchesByMedicine(ctx context.Context, medicineID string) ([]*domain.Batch, error) {
	var out []*domain.Batch
	err := s.run(ctx, func(*tx) error {
		for _, b := range s.batches {
			if b.MedicineID == medicineID {
				c := *b
				out = append(out, &c)
			}
		}
		return nil
	})
	sortBatches(out)
	return out, err
}

func sortBatches(bs []*domain.Batch) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].ExpiryDate.Equal(bs[j].ExpiryDate) {
			return bs[i].ExpiryDate.Before(bs[j].ExpiryDate)
		}
		return bs[i].LotCode < bs[j].LotCode
	})
}
