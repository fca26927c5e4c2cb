package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/service"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/permissions"
)

// MedicineHandler handles catalog endpoints
type MedicineHandler struct {
	catalog *service.CatalogService
	logger  *logger.Logger
}

// NewMedicineHandler creates a new medicine handler
func NewMedicineHandler(catalog *service.CatalogService, log *logger.Logger) *MedicineHandler {
	return &MedicineHandler{
		catalog: catalog,
		logger:  log,
	}
}

type createMedicineRequest struct {
	Name         string `json:"name" validate:"required,notblank,max=200"`
	Presentation string `json:"presentation" validate:"required,notblank,max=200"`
	Unit         string `json:"unit" validate:"max=50"`
	MinStock     *int   `json:"min_stock" validate:"omitempty,gte=0"`
}

type updateMedicineRequest struct {
	Name          *string `json:"name" validate:"omitempty,notblank,max=200"`
	Presentation  *string `json:"presentation" validate:"omitempty,notblank,max=200"`
	Unit          *string `json:"unit" validate:"omitempty,max=50"`
	MinStock      *int    `json:"min_stock" validate:"omitempty,gte=0"`
	ClearMinStock bool    `json:"clear_min_stock"`
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// List lists medicines with their stock summary
// GET /medicines?search=&include_inactive=
func (h *MedicineHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, permissions.MedicinesRead); !ok {
		return
	}

	medicines, err := h.catalog.List(r.Context(), domain.MedicineFilter{
		Search:          r.URL.Query().Get("search"),
		IncludeInactive: queryBool(r, "include_inactive"),
	})
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, medicines)
}

// Create adds a medicine to the catalog
// POST /medicines
func (h *MedicineHandler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := authorize(w, r, permissions.MedicinesWrite)
	if !ok {
		return
	}

	var req createMedicineRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	m, err := h.catalog.Create(r.Context(), domain.NewMedicineInput{
		Name:         req.Name,
		Presentation: req.Presentation,
		Unit:         req.Unit,
		MinStock:     req.MinStock,
	}, a)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, m)
}

// Get returns one medicine with its stock summary
// GET /medicines/{id}
func (h *MedicineHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, permissions.MedicinesRead); !ok {
		return
	}

	m, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, m)
}

// Update applies a partial update
// PUT /medicines/{id}
func (h *MedicineHandler) Update(w http.ResponseWriter, r *http.Request) {
	a, ok := authorize(w, r, permissions.MedicinesWrite)
	if !ok {
		return
	}

	var req updateMedicineRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	m, err := h.catalog.Update(r.Context(), chi.URLParam(r, "id"), domain.MedicineUpdate{
		Name:          req.Name,
		Presentation:  req.Presentation,
		Unit:          req.Unit,
		MinStock:      req.MinStock,
		ClearMinStock: req.ClearMinStock,
	}, a)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, m)
}

// SetActive activates or deactivates a medicine
// PUT /medicines/{id}/active
func (h *MedicineHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	a, ok := authorize(w, r, permissions.MedicinesWrite)
	if !ok {
		return
	}

	var req setActiveRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	m, err := h.catalog.SetActive(r.Context(), chi.URLParam(r, "id"), *req.Active, a)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, m)
}
