package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/handler"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/memstore"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/service"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/lock"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/testutil"
)

const basePath = "/api/v1/pharmacy"

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *httputil.ErrorBody `json:"error"`
	Meta    *httputil.Meta      `json:"meta"`
}

// flakyLocker refuses the first n acquisitions
type flakyLocker struct {
	refusals atomic.Int32
}

func (l *flakyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l.refusals.Add(-1) >= 0 {
		return nil, lock.ErrNotAcquired
	}
	return func() {}, nil
}

type server struct {
	router http.Handler
	locker *flakyLocker
}

func newServer(t *testing.T) *server {
	t.Helper()

	store := memstore.New()
	stores := service.Stores{Tx: store, Medicines: store, Batches: store, Movements: store}
	settings := service.Settings{
		ExpiringWindowDays: domain.DefaultExpiringWindowDays,
		Location:           time.UTC,
		Clock:              func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
	log := logger.Nop()
	locker := &flakyLocker{}

	catalog := service.NewCatalogService(stores, settings, nil, log)
	registry := service.NewRegistryService(stores, settings, nil, log)
	engine := service.NewEngine(stores, registry, locker, settings, nil, log)
	query := service.NewQueryService(stores, settings, log)

	h := &handler.Handlers{
		Medicines: handler.NewMedicineHandler(catalog, log),
		Batches:   handler.NewBatchHandler(registry, query, log),
		Movements: handler.NewMovementHandler(engine, query, 2, time.UTC, log),
		Dashboard: handler.NewDashboardHandler(query, log),
	}

	r := chi.NewRouter()
	r.Use(httputil.ActorMiddleware)
	r.Route(basePath, h.Routes)
	return &server{router: r, locker: locker}
}

func (s *server) do(t *testing.T, role, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := testutil.NewHTTPRequest(method, basePath+path, body)
	if role != "" {
		testutil.WithActorHeaders(req, "u-"+role, "Test "+role, role)
	}
	rr := testutil.ExecuteRequest(s.router, req)

	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (s *server) createMedicine(t *testing.T, name string) *domain.Medicine {
	t.Helper()
	rr, env := s.do(t, actor.RolePharmacist, http.MethodPost, "/medicines", map[string]interface{}{
		"name":         name,
		"presentation": "500mg tablet",
		"unit":         "tablet",
		"min_stock":    10,
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	return decode[*domain.Medicine](t, env)
}

type movementResult struct {
	Movement *domain.Movement `json:"movement"`
	Batch    *domain.Batch    `json:"batch"`
}

func TestHandlers_RequireIdentity(t *testing.T) {
	s := newServer(t)

	rr, env := s.do(t, "", http.MethodGet, "/medicines", nil)
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	require.NotNil(t, env.Error)
	assert.Equal(t, "MISSING_IDENTITY", env.Error.Code)
}

func TestHandlers_RoleRestrictions(t *testing.T) {
	s := newServer(t)
	m := s.createMedicine(t, "Dipirona")

	rr, _ := s.do(t, actor.RoleReception, http.MethodPost, "/medicines", map[string]interface{}{
		"name": "Ibuprofeno", "presentation": "400mg",
	})
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr, _ = s.do(t, actor.RoleCoordinator, http.MethodPost, "/medicines/"+m.ID+"/batches", map[string]string{
		"lot_code": "L1", "expiry_date": "2026-01-01",
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rr, _ = s.do(t, actor.RoleReception, http.MethodPost, "/medicines/"+m.ID+"/batches", map[string]string{
		"lot_code": "L2", "expiry_date": "2026-01-01",
	})
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	for _, tc := range []struct {
		role string
		body map[string]interface{}
	}{
		{actor.RoleReception, map[string]interface{}{"type": "AJUSTE", "medicine_id": m.ID, "quantity": 1, "direction": "INCREASE", "reason": "count"}},
		{actor.RoleCoordinator, map[string]interface{}{"type": "AJUSTE", "medicine_id": m.ID, "quantity": 1, "direction": "INCREASE", "reason": "count"}},
		{actor.RoleReception, map[string]interface{}{"type": "ESTORNO", "original_movement_id": "x", "reason": "oops"}},
	} {
		rr, env := s.do(t, tc.role, http.MethodPost, "/movements", tc.body)
		testutil.AssertStatus(t, rr, http.StatusForbidden)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	}
}

func TestHandlers_LedgerFlow(t *testing.T) {
	s := newServer(t)
	m := s.createMedicine(t, "Dipirona")

	rr, env := s.do(t, actor.RoleReception, http.MethodPost, "/movements", map[string]interface{}{
		"type":        "ENTRADA",
		"medicine_id": m.ID,
		"lot_code":    "L100",
		"expiry_date": "2026-01-01",
		"quantity":    100,
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	entrada := decode[movementResult](t, env)
	assert.Equal(t, 100, entrada.Batch.Quantity)
	batchID := entrada.Batch.ID

	rr, env = s.do(t, actor.RoleReception, http.MethodPost, "/movements", map[string]interface{}{
		"type": "SAIDA", "medicine_id": m.ID, "batch_id": batchID, "quantity": 30,
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	saida := decode[movementResult](t, env)
	assert.Equal(t, 70, saida.Batch.Quantity)
	assert.Equal(t, -30, saida.Movement.SignedQuantity)
	assert.Equal(t, "u-reception", saida.Movement.ActorID)

	rr, env = s.do(t, actor.RoleReception, http.MethodPost, "/movements", map[string]interface{}{
		"type": "SAIDA", "medicine_id": m.ID, "batch_id": batchID, "quantity": 80,
	})
	testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
	assert.Equal(t, domain.CodeInsufficientStock, env.Error.Code)
	assert.Equal(t, "70", env.Error.Details["available"])

	rr, env = s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "AJUSTE", "medicine_id": m.ID, "batch_id": batchID, "quantity": 5, "direction": "DECREASE",
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Equal(t, domain.CodeReasonRequired, env.Error.Code)

	rr, env = s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "ESTORNO", "original_movement_id": saida.Movement.ID, "reason": "wrong patient",
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	estorno := decode[movementResult](t, env)
	assert.Equal(t, 100, estorno.Batch.Quantity)

	rr, env = s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "ESTORNO", "original_movement_id": saida.Movement.ID, "reason": "again",
	})
	testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
	assert.Equal(t, domain.CodeAlreadyReversed, env.Error.Code)

	rr, env = s.do(t, actor.RoleReception, http.MethodGet, "/movements?batch_id="+batchID+"&limit=2", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	items := decode[[]*domain.Movement](t, env)
	require.Len(t, items, 2)
	assert.Equal(t, domain.TypeEstorno, items[0].Type)
	require.NotNil(t, env.Meta)
	assert.Equal(t, int64(3), env.Meta.Total)
	assert.Equal(t, 2, env.Meta.Limit)

	rr, env = s.do(t, actor.RoleReception, http.MethodGet, "/batches/"+batchID+"/reconcile", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	rec := decode[service.Reconciliation](t, env)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 100, rec.LedgerQuantity)
}

func TestHandlers_MovementValidation(t *testing.T) {
	s := newServer(t)
	m := s.createMedicine(t, "Dipirona")

	rr, env := s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "TRANSFER", "medicine_id": m.ID, "quantity": 1,
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Details, "type")

	rr, env = s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "ENTRADA", "medicine_id": m.ID, "lot_code": "L1", "expiry_date": "2026-01-01", "quantity": 0,
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Equal(t, domain.CodeInvalidQuantity, env.Error.Code)

	rr, env = s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "AJUSTE", "medicine_id": m.ID, "batch_id": "b", "quantity": 1, "reason": "count",
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Contains(t, env.Error.Details, "direction")

	rr, _ = s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "SAIDA", "medicine_id": m.ID, "batch_id": "b", "quantity": 1, "unknown": true,
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr, env = s.do(t, actor.RolePharmacist, http.MethodGet, "/movements?from=yesterday", nil)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Contains(t, env.Error.Details, "from")
}

func TestHandlers_RetriesConcurrentModification(t *testing.T) {
	s := newServer(t)
	m := s.createMedicine(t, "Dipirona")

	s.locker.refusals.Store(2)
	rr, _ := s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "ENTRADA", "medicine_id": m.ID, "lot_code": "L1", "expiry_date": "2026-01-01", "quantity": 5,
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)

	s.locker.refusals.Store(3)
	rr, env := s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "ENTRADA", "medicine_id": m.ID, "lot_code": "L1", "expiry_date": "2026-01-01", "quantity": 5,
	})
	testutil.AssertStatus(t, rr, http.StatusConflict)
	assert.Equal(t, domain.CodeConcurrentModification, env.Error.Code)
}

func TestHandlers_MedicineLifecycle(t *testing.T) {
	s := newServer(t)
	m := s.createMedicine(t, "Dipirona")

	rr, env := s.do(t, actor.RolePharmacist, http.MethodPut, "/medicines/"+m.ID, map[string]interface{}{
		"name": "Dipirona Sodica", "clear_min_stock": true,
	})
	testutil.AssertStatus(t, rr, http.StatusOK)
	updated := decode[*domain.Medicine](t, env)
	assert.Equal(t, "Dipirona Sodica", updated.Name)
	assert.Nil(t, updated.MinStock)

	rr, _ = s.do(t, actor.RolePharmacist, http.MethodPut, "/medicines/"+m.ID+"/active", map[string]interface{}{})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr, env = s.do(t, actor.RolePharmacist, http.MethodPut, "/medicines/"+m.ID+"/active", map[string]bool{"active": false})
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.False(t, decode[*domain.Medicine](t, env).IsActive)

	rr, env = s.do(t, actor.RoleReception, http.MethodGet, "/medicines", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Empty(t, decode[[]*service.MedicineView](t, env))

	rr, env = s.do(t, actor.RoleReception, http.MethodGet, "/medicines?include_inactive=true", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Len(t, decode[[]*service.MedicineView](t, env), 1)

	rr, env = s.do(t, actor.RoleReception, http.MethodPost, "/movements", map[string]interface{}{
		"type": "ENTRADA", "medicine_id": m.ID, "lot_code": "L1", "expiry_date": "2026-01-01", "quantity": 5,
	})
	testutil.AssertStatus(t, rr, http.StatusNotFound)
	assert.Equal(t, domain.CodeMedicineNotFound, env.Error.Code)

	rr, _ = s.do(t, actor.RoleReception, http.MethodGet, "/medicines/does-not-exist", nil)
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}

func TestHandlers_BatchesAndDashboard(t *testing.T) {
	s := newServer(t)
	m := s.createMedicine(t, "Dipirona")

	rr, env := s.do(t, actor.RolePharmacist, http.MethodPost, "/medicines/"+m.ID+"/batches", map[string]string{
		"lot_code": "L1", "expiry_date": "2025-06-20",
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	b := decode[*domain.Batch](t, env)

	rr, _ = s.do(t, actor.RolePharmacist, http.MethodPost, "/medicines/"+m.ID+"/batches", map[string]string{
		"lot_code": "L1", "expiry_date": "2025-06-20",
	})
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr, env = s.do(t, actor.RolePharmacist, http.MethodPost, "/medicines/"+m.ID+"/batches", map[string]string{
		"lot_code": "L2", "expiry_date": "20/06/2025",
	})
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
	assert.Contains(t, env.Error.Details, "expiry_date")

	rr, _ = s.do(t, actor.RolePharmacist, http.MethodPost, "/movements", map[string]interface{}{
		"type": "ENTRADA", "medicine_id": m.ID, "batch_id": b.ID, "quantity": 50,
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)

	rr, env = s.do(t, actor.RoleReception, http.MethodGet, "/batches?status=expiring", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	views := decode[[]*service.BatchView](t, env)
	require.Len(t, views, 1)
	assert.Equal(t, domain.StatusExpiring, views[0].Status)
	assert.Equal(t, 19, views[0].DaysToExpiry)

	rr, _ = s.do(t, actor.RoleReception, http.MethodGet, "/batches?status=bogus", nil)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	rr, env = s.do(t, actor.RoleReception, http.MethodGet, "/batches/"+b.ID, nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	detail := decode[map[string]interface{}](t, env)
	assert.Equal(t, "Dipirona", detail["medicine_name"])

	rr, env = s.do(t, actor.RoleReception, http.MethodGet, "/medicines/"+m.ID+"/batches", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Len(t, decode[[]*domain.Batch](t, env), 1)

	rr, env = s.do(t, actor.RoleReception, http.MethodGet, "/dashboard/stats", nil)
	testutil.AssertStatus(t, rr, http.StatusOK)
	stats := decode[service.DashboardStats](t, env)
	assert.Equal(t, 1, stats.TotalMedicines)
	assert.Equal(t, 1, stats.TotalBatches)
	assert.Equal(t, 50, stats.TotalUsableUnits)
}
