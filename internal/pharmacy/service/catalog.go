package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/events"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/messaging"
)

// CatalogService manages medicine reference data
type CatalogService struct {
	stores    Stores
	settings  Settings
	publisher *events.PharmacyEventPublisher
	logger    *logger.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(stores Stores, settings Settings, publisher *events.PharmacyEventPublisher, log *logger.Logger) *CatalogService {
	return &CatalogService{
		stores:    stores,
		settings:  settings.withDefaults(),
		publisher: publisher,
		logger:    log.WithComponent("catalog"),
	}
}

// MedicineView is a medicine with its derived stock summary
type MedicineView struct {
	*domain.Medicine
	Stock domain.MedicineStock `json:"stock"`
}

// Create adds a medicine to the catalog. New medicines are active.
func (s *CatalogService) Create(ctx context.Context, in domain.NewMedicineInput, a *actor.Actor) (*domain.Medicine, error) {
	if !a.Valid() {
		return nil, errors.MissingIdentity()
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.settings.now()
	m := &domain.Medicine{
		ID:            uuid.New().String(),
		Name:          in.Name,
		Presentation:  in.Presentation,
		Unit:          in.Unit,
		MinStock:      in.MinStock,
		IsActive:      true,
		CreatedAt:     now,
		CreatedBy:     a.ID,
		CreatedByName: a.Name(),
	}
	m.Touch(a, now)

	if err := s.stores.Medicines.CreateMedicine(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medicine_id", m.ID).
		Str("name", m.Name).
		Str("actor_id", a.ID).
		Msg("medicine created")

	s.publisher.PublishMedicineChanged(ctx, messaging.EventMedicineCreated, m, a)
	return m, nil
}

// Update applies a partial update. Fields left nil are kept.
func (s *CatalogService) Update(ctx context.Context, id string, u domain.MedicineUpdate, a *actor.Actor) (*domain.Medicine, error) {
	if !a.Valid() {
		return nil, errors.MissingIdentity()
	}

	var m *domain.Medicine
	err := s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.stores.Medicines.GetMedicine(ctx, id)
		if err != nil {
			return err
		}
		if err := u.Apply(m); err != nil {
			return err
		}
		m.Touch(a, s.settings.now())
		return s.stores.Medicines.UpdateMedicine(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("medicine_id", m.ID).Str("actor_id", a.ID).Msg("medicine updated")
	s.publisher.PublishMedicineChanged(ctx, messaging.EventMedicineUpdated, m, a)
	return m, nil
}

// SetActive toggles the active flag. Setting the current value is a no-op.
// Batches and movements are never touched.
func (s *CatalogService) SetActive(ctx context.Context, id string, active bool, a *actor.Actor) (*domain.Medicine, error) {
	if !a.Valid() {
		return nil, errors.MissingIdentity()
	}

	var (
		m       *domain.Medicine
		changed bool
	)
	err := s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.stores.Medicines.GetMedicine(ctx, id)
		if err != nil {
			return err
		}
		if m.IsActive == active {
			return nil
		}
		m.IsActive = active
		m.Touch(a, s.settings.now())
		changed = true
		return s.stores.Medicines.UpdateMedicine(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return m, nil
	}

	eventType := messaging.EventMedicineDeactivated
	if active {
		eventType = messaging.EventMedicineActivated
	}
	s.logger.Info().
		Str("medicine_id", m.ID).
		Bool("active", active).
		Str("actor_id", a.ID).
		Msg("medicine active flag changed")
	s.publisher.PublishMedicineChanged(ctx, eventType, m, a)
	return m, nil
}

// Get returns a medicine with its stock summary
func (s *CatalogService) Get(ctx context.Context, id string) (*MedicineView, error) {
	m, err := s.stores.Medicines.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	batches, err := s.stores.Batches.ListBatchesByMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(m, batches), nil
}

// List returns medicines matching f, each with its stock summary
func (s *CatalogService) List(ctx context.Context, f domain.MedicineFilter) ([]*MedicineView, error) {
	medicines, err := s.stores.Medicines.ListMedicines(ctx, f)
	if err != nil {
		return nil, err
	}

	batches, err := s.stores.Batches.ListBatches(ctx, domain.BatchFilter{IncludeInactive: true})
	if err != nil {
		return nil, err
	}
	byMedicine := make(map[string][]*domain.Batch)
	for _, b := range batches {
		byMedicine[b.MedicineID] = append(byMedicine[b.MedicineID], b)
	}

	views := make([]*MedicineView, 0, len(medicines))
	for _, m := range medicines {
		views = append(views, s.view(m, byMedicine[m.ID]))
	}
	return views, nil
}

func (s *CatalogService) view(m *domain.Medicine, batches []*domain.Batch) *MedicineView {
	return &MedicineView{
		Medicine: m,
		Stock:    s.settings.classifier().ClassifyMedicine(m, batches, s.settings.today()),
	}
}
