package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/service"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/permissions"
)

// BatchHandler handles batch endpoints
type BatchHandler struct {
	registry *service.RegistryService
	query    *service.QueryService
	logger   *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(registry *service.RegistryService, query *service.QueryService, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		registry: registry,
		query:    query,
		logger:   log,
	}
}

type getOrCreateBatchRequest struct {
	LotCode    string `json:"lot_code" validate:"required,notblank,max=100"`
	ExpiryDate string `json:"expiry_date" validate:"required"`
}

// List lists batches with their derived status
// GET /batches?medicine_id=&search=&status=&include_inactive=
func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, permissions.BatchesRead); !ok {
		return
	}

	q := r.URL.Query()
	batches, err := h.query.ListBatches(r.Context(), domain.BatchFilter{
		MedicineID:      q.Get("medicine_id"),
		SearchTerm:      q.Get("search"),
		Status:          domain.Status(strings.ToUpper(q.Get("status"))),
		IncludeInactive: queryBool(r, "include_inactive"),
	})
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// Get returns a batch with its medicine summary and latest movements
// GET /batches/{id}
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, permissions.BatchesRead); !ok {
		return
	}

	batch, err := h.query.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batch)
}

// ListByMedicine lists the batches of one medicine
// GET /medicines/{id}/batches
func (h *BatchHandler) ListByMedicine(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, permissions.BatchesRead); !ok {
		return
	}

	batches, err := h.registry.ListByMedicine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// GetOrCreate registers a lot for a medicine. An existing lot is returned
// with 200, a new one with 201.
// POST /medicines/{id}/batches
func (h *BatchHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	a, ok := authorize(w, r, permissions.BatchesWrite)
	if !ok {
		return
	}

	var req getOrCreateBatchRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	batch, created, err := h.registry.GetOrCreate(r.Context(), chi.URLParam(r, "id"), domain.NewBatchInput{
		LotCode:    req.LotCode,
		ExpiryDate: req.ExpiryDate,
	}, a)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	if created {
		httputil.Created(w, batch)
		return
	}
	httputil.JSON(w, http.StatusOK, batch)
}

// Reconcile compares the cached quantity with the ledger sum
// GET /batches/{id}/reconcile
func (h *BatchHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, permissions.BatchesRead); !ok {
		return
	}

	rec, err := h.query.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, rec)
}
