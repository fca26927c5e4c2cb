package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
)

// FixtureFactory creates domain records with sensible defaults. Records are
// not persisted; hand them to a store.
type FixtureFactory struct {
	sequence int
	Now      time.Time
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{
		Now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Actor returns a pharmacist actor
func (f *FixtureFactory) Actor() *actor.Actor {
	seq := f.nextSeq()
	return actor.New(fmt.Sprintf("user-%d", seq), fmt.Sprintf("Pharmacist %d", seq), actor.RolePharmacist)
}

// Medicine returns an active medicine
func (f *FixtureFactory) Medicine(opts ...func(*domain.Medicine)) *domain.Medicine {
	seq := f.nextSeq()
	m := &domain.Medicine{
		ID:            uuid.New().String(),
		Name:          fmt.Sprintf("Medicine %d", seq),
		Presentation:  "500mg tablet",
		Unit:          "tablet",
		IsActive:      true,
		CreatedAt:     f.Now,
		CreatedBy:     "user-fixture",
		CreatedByName: "Fixture",
		UpdatedAt:     f.Now,
		UpdatedBy:     "user-fixture",
		UpdatedByName: "Fixture",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithMedicineName sets the medicine name
func WithMedicineName(name string) func(*domain.Medicine) {
	return func(m *domain.Medicine) {
		m.Name = name
	}
}

// WithMinStock sets the medicine threshold
func WithMinStock(min int) func(*domain.Medicine) {
	return func(m *domain.Medicine) {
		m.MinStock = &min
	}
}

// Inactive deactivates the medicine
func Inactive() func(*domain.Medicine) {
	return func(m *domain.Medicine) {
		m.IsActive = false
	}
}

// Batch returns an empty batch of medicineID expiring a year after Now
func (f *FixtureFactory) Batch(medicineID string, opts ...func(*domain.Batch)) *domain.Batch {
	seq := f.nextSeq()
	b := &domain.Batch{
		ID:            uuid.New().String(),
		MedicineID:    medicineID,
		LotCode:       fmt.Sprintf("LOT-%04d", seq),
		ExpiryDate:    domain.DateOf(f.Now.AddDate(1, 0, 0)),
		CreatedAt:     f.Now,
		CreatedBy:     "user-fixture",
		CreatedByName: "Fixture",
		UpdatedAt:     f.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithLotCode sets the lot code
func WithLotCode(lot string) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.LotCode = lot
	}
}

// WithExpiry sets the expiry date
func WithExpiry(expiry time.Time) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.ExpiryDate = domain.DateOf(expiry)
	}
}

// WithQuantity sets the cached quantity
func WithQuantity(q int) func(*domain.Batch) {
	return func(b *domain.Batch) {
		b.Quantity = q
	}
}
