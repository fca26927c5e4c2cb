package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/service"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/permissions"
)

// MovementHandler handles ledger endpoints
type MovementHandler struct {
	engine   *service.Engine
	query    *service.QueryService
	retries  int
	location *time.Location
	logger   *logger.Logger
}

// NewMovementHandler creates a new movement handler. A movement rejected
// with a concurrent modification is retried up to retries more times.
func NewMovementHandler(engine *service.Engine, query *service.QueryService, retries int, loc *time.Location, log *logger.Logger) *MovementHandler {
	if retries < 0 {
		retries = 0
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MovementHandler{
		engine:   engine,
		query:    query,
		retries:  retries,
		location: loc,
		logger:   log,
	}
}

type applyMovementRequest struct {
	Type               string `json:"type" validate:"required,oneof=ENTRADA SAIDA AJUSTE ESTORNO"`
	MedicineID         string `json:"medicine_id"`
	BatchID            string `json:"batch_id"`
	LotCode            string `json:"lot_code" validate:"omitempty,max=100"`
	ExpiryDate         string `json:"expiry_date"`
	Quantity           int    `json:"quantity"`
	Direction          string `json:"direction" validate:"omitempty,oneof=INCREASE DECREASE"`
	Reason             string `json:"reason" validate:"max=500"`
	OriginalMovementID string `json:"original_movement_id"`
}

// kind maps the flat request onto the movement variant it names
func (req *applyMovementRequest) kind() (domain.Kind, error) {
	switch domain.MovementType(req.Type) {
	case domain.TypeEntrada:
		k := domain.Entrada{Reason: req.Reason}
		if req.LotCode != "" || req.ExpiryDate != "" {
			k.NewBatch = &domain.NewBatchInput{LotCode: req.LotCode, ExpiryDate: req.ExpiryDate}
		}
		return k, nil
	case domain.TypeSaida:
		return domain.Saida{Reason: req.Reason}, nil
	case domain.TypeAjuste:
		if req.Direction == "" {
			return nil, errors.Validation(map[string]string{"direction": "this field is required"})
		}
		return domain.Ajuste{Direction: domain.Direction(req.Direction), Reason: req.Reason}, nil
	case domain.TypeEstorno:
		if req.OriginalMovementID == "" {
			return nil, errors.Validation(map[string]string{"original_movement_id": "this field is required"})
		}
		return domain.Estorno{OriginalMovementID: req.OriginalMovementID, Reason: req.Reason}, nil
	default:
		return nil, errors.Validation(map[string]string{"type": "must be one of: ENTRADA SAIDA AJUSTE ESTORNO"})
	}
}

// permissionFor is the permission each movement type requires
func permissionFor(t domain.MovementType) string {
	switch t {
	case domain.TypeEntrada:
		return permissions.MovementsInflow
	case domain.TypeSaida:
		return permissions.MovementsOutflow
	case domain.TypeAjuste:
		return permissions.MovementsAdjust
	default:
		return permissions.MovementsReverse
	}
}

type movementResponse struct {
	Movement *domain.Movement `json:"movement"`
	Batch    *domain.Batch    `json:"batch"`
}

// Apply records one movement
// POST /movements
func (h *MovementHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyMovementRequest
	if err := httputil.DecodeAndValidate(r, &req); err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	a, ok := authorize(w, r, permissionFor(domain.MovementType(req.Type)))
	if !ok {
		return
	}

	kind, err := req.kind()
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	mvReq := domain.MovementRequest{
		Kind:       kind,
		MedicineID: req.MedicineID,
		BatchID:    req.BatchID,
		Quantity:   req.Quantity,
	}

	var (
		mv    *domain.Movement
		batch *domain.Batch
	)
	for attempt := 0; ; attempt++ {
		mv, batch, err = h.engine.Apply(r.Context(), mvReq, a)
		if err == nil || !domain.IsRetryable(err) || attempt >= h.retries {
			break
		}
		h.logger.Debug().
			Int("attempt", attempt+1).
			Str("batch_id", req.BatchID).
			Msg("retrying movement after concurrent modification")
	}
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.Created(w, movementResponse{Movement: mv, Batch: batch})
}

// List returns a page of the ledger, newest first
// GET /movements?medicine_id=&batch_id=&type=&from=&to=&limit=&offset=
func (h *MovementHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, permissions.MovementsRead); !ok {
		return
	}

	f, err := h.filter(r)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	page, err := h.query.ListMovements(r.Context(), f)
	if err != nil {
		httputil.ErrorLocalized(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, page.Items, &httputil.Meta{
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (h *MovementHandler) filter(r *http.Request) (domain.MovementFilter, error) {
	q := r.URL.Query()
	f := domain.MovementFilter{
		MedicineID: q.Get("medicine_id"),
		BatchID:    q.Get("batch_id"),
		Type:       domain.MovementType(strings.ToUpper(q.Get("type"))),
	}

	var err error
	if f.Limit, err = queryInt(r, "limit", domain.DefaultMovementLimit); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	if f.From, err = h.parseTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = h.parseTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	return f, nil
}

// parseTime accepts RFC 3339 timestamps or calendar dates. A date is
// midnight in the ledger timezone.
func (h *MovementHandler) parseTime(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation(domain.DateLayout, raw, h.location); err == nil {
		return &t, nil
	}
	return nil, errors.Validation(map[string]string{field: "must be an RFC 3339 timestamp or a date in the format 2006-01-02"})
}
