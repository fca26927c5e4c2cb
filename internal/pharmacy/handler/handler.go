// Package handler exposes the pharmacy ledger over HTTP.
package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/permissions"
)

// Handlers groups the route handlers of the service
type Handlers struct {
	Medicines *MedicineHandler
	Batches   *BatchHandler
	Movements *MovementHandler
	Dashboard *DashboardHandler
}

// Routes mounts the pharmacy API on r. The caller is expected to have
// installed httputil.ActorMiddleware.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/medicines", func(r chi.Router) {
		r.Get("/", h.Medicines.List)
		r.Post("/", h.Medicines.Create)
		r.Get("/{id}", h.Medicines.Get)
		r.Put("/{id}", h.Medicines.Update)
		r.Put("/{id}/active", h.Medicines.SetActive)
		r.Get("/{id}/batches", h.Batches.ListByMedicine)
		r.Post("/{id}/batches", h.Batches.GetOrCreate)
	})

	r.Route("/batches", func(r chi.Router) {
		r.Get("/", h.Batches.List)
		r.Get("/{id}", h.Batches.Get)
		r.Get("/{id}/reconcile", h.Batches.Reconcile)
	})

	r.Route("/movements", func(r chi.Router) {
		r.Get("/", h.Movements.List)
		r.Post("/", h.Movements.Apply)
	})

	r.Get("/dashboard/stats", h.Dashboard.GetStats)
}

// authorize returns the request actor when its role grants perm. Otherwise
// it writes the error response and returns false.
func authorize(w http.ResponseWriter, r *http.Request, perm string) (*actor.Actor, bool) {
	a := actor.FromContext(r.Context())
	if !a.Valid() {
		httputil.ErrorLocalized(w, r, errors.MissingIdentity())
		return nil, false
	}
	if !permissions.Allowed(a, perm) {
		httputil.ErrorLocalized(w, r, errors.Forbidden("role "+a.Role+" may not perform "+perm))
		return nil, false
	}
	return a, true
}

// queryBool parses a boolean query parameter; anything but "true" or "1" is false
func queryBool(r *http.Request, key string) bool {
	v := strings.ToLower(r.URL.Query().Get(key))
	return v == "true" || v == "1"
}

// queryInt parses an integer query parameter, returning def when absent
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Validation(map[string]string{key: "must be an integer"})
	}
	return n, nil
}
