package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/memstore"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/lock"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

var (
	pharmacist = actor.New("u-pharm", "Ana Souza", actor.RolePharmacist)
	reception  = actor.New("u-recep", "Bruno Lima", actor.RoleReception)
)

type fixture struct {
	store    *memstore.Store
	catalog  *CatalogService
	registry *RegistryService
	engine   *Engine
	query    *QueryService
	settings Settings
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	f := &fixture{
		store: memstore.New(),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, saoPaulo),
	}
	settings := Settings{
		ExpiringWindowDays: domain.DefaultExpiringWindowDays,
		Location:           saoPaulo,
		Clock:              func() time.Time { return f.now },
	}
	f.settings = settings
	f.wire(Stores{Tx: f.store, Medicines: f.store, Batches: f.store, Movements: f.store})
	return f
}

// wire rebuilds the services on stores, which may wrap f.store
func (f *fixture) wire(stores Stores) {
	log := logger.Nop()
	f.catalog = NewCatalogService(stores, f.settings, nil, log)
	f.registry = NewRegistryService(stores, f.settings, nil, log)
	f.engine = NewEngine(stores, f.registry, lock.NewKeyedMutex(), f.settings, nil, log)
	f.query = NewQueryService(stores, f.settings, log)
}

func (f *fixture) medicine(t *testing.T, name string, minStock *int) *domain.Medicine {
	t.Helper()
	m, err := f.catalog.Create(context.Background(), domain.NewMedicineInput{
		Name:         name,
		Presentation: "500mg tablet",
		Unit:         "tablet",
		MinStock:     minStock,
	}, pharmacist)
	require.NoError(t, err)
	return m
}

func (f *fixture) batch(t *testing.T, medicineID, lot, expiry string) *domain.Batch {
	t.Helper()
	b, _, err := f.registry.GetOrCreate(context.Background(), medicineID, domain.NewBatchInput{LotCode: lot, ExpiryDate: expiry}, pharmacist)
	require.NoError(t, err)
	return b
}

func (f *fixture) apply(kind domain.Kind, medicineID, batchID string, qty int) (*domain.Movement, *domain.Batch, error) {
	return f.engine.Apply(context.Background(), domain.MovementRequest{
		Kind:       kind,
		MedicineID: medicineID,
		BatchID:    batchID,
		Quantity:   qty,
	}, pharmacist)
}

func (f *fixture) stocked(t *testing.T, qty int) (*domain.Medicine, *domain.Batch) {
	t.Helper()
	m := f.medicine(t, "Dipirona", nil)
	b := f.batch(t, m.ID, "L100", "2026-01-01")
	_, b, err := f.apply(domain.Entrada{}, m.ID, b.ID, qty)
	require.NoError(t, err)
	return m, b
}

func intPtr(v int) *int { return &v }
