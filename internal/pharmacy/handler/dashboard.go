package handler

import (
	"net/http"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/service"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/permissions"
)

// DashboardHandler handles dashboard endpoints
type DashboardHandler struct {
	query  *service.QueryService
	logger *logger.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(query *service.QueryService, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{
		query:  query,
		logger: log,
	}
}

// GetStats returns stock totals for the active catalog
// GET /dashboard/stats
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, permissions.ReportsRead); !ok {
		return
	}

	stats, err := h.query.Dashboard(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to compute dashboard stats")
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}
