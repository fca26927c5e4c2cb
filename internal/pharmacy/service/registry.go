package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/events"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// RegistryService finds and creates lots. It never changes a quantity.
type RegistryService struct {
	stores    Stores
	settings  Settings
	publisher *events.PharmacyEventPublisher
	logger    *logger.Logger
}

// NewRegistryService creates a new batch registry
func NewRegistryService(stores Stores, settings Settings, publisher *events.PharmacyEventPublisher, log *logger.Logger) *RegistryService {
	return &RegistryService{
		stores:    stores,
		settings:  settings.withDefaults(),
		publisher: publisher,
		logger:    log.WithComponent("registry"),
	}
}

// GetOrCreate returns the batch with this lot code for the medicine,
// creating it with quantity 0 when absent. The bool reports creation.
// An existing batch is returned unchanged even if the expiry differs.
func (s *RegistryService) GetOrCreate(ctx context.Context, medicineID string, in domain.NewBatchInput, a *actor.Actor) (*domain.Batch, bool, error) {
	if !a.Valid() {
		return nil, false, errors.MissingIdentity()
	}

	var (
		b       *domain.Batch
		created bool
	)
	err := s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		m, err := s.stores.Medicines.GetMedicine(ctx, medicineID)
		if err != nil {
			return err
		}
		if !m.IsActive {
			return domain.MedicineInactive(m.ID, m.Name)
		}
		b, created, err = s.getOrCreate(ctx, m, in, a)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.publisher.PublishBatchCreated(ctx, b)
	}
	return b, created, nil
}

// getOrCreate runs inside the caller's unit and does not publish
func (s *RegistryService) getOrCreate(ctx context.Context, m *domain.Medicine, in domain.NewBatchInput, a *actor.Actor) (*domain.Batch, bool, error) {
	lot, expiry, err := in.Parse()
	if err != nil {
		return nil, false, err
	}

	now := s.settings.now()
	b, created, err := s.stores.Batches.CreateBatchIfAbsent(ctx, &domain.Batch{
		ID:            uuid.New().String(),
		MedicineID:    m.ID,
		LotCode:       lot,
		ExpiryDate:    expiry,
		Quantity:      0,
		Version:       0,
		CreatedAt:     now,
		CreatedBy:     a.ID,
		CreatedByName: a.Name(),
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info().
			Str("batch_id", b.ID).
			Str("medicine_id", m.ID).
			Str("lot_code", lot).
			Str("actor_id", a.ID).
			Msg("batch created")
	} else if !domain.DateOf(b.ExpiryDate).Equal(expiry) {
		s.logger.Warn().
			Str("batch_id", b.ID).
			Str("lot_code", lot).
			Time("stored_expiry", b.ExpiryDate).
			Time("given_expiry", expiry).
			Msg("lot already registered with a different expiry; keeping stored value")
	}
	return b, created, nil
}

// Find returns a batch by id
func (s *RegistryService) Find(ctx context.Context, id string) (*domain.Batch, error) {
	return s.stores.Batches.GetBatch(ctx, id)
}

// ListByMedicine returns every batch of a medicine, earliest expiry first
func (s *RegistryService) ListByMedicine(ctx context.Context, medicineID string) ([]*domain.Batch, error) {
	if _, err := s.stores.Medicines.GetMedicine(ctx, medicineID); err != nil {
		return nil, err
	}
	return s.stores.Batches.ListBatchesByMedicine(ctx, medicineID)
}
