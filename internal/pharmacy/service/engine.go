package service

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/events"
	"github.com/medflow/pharmacy-ledger/pkg/actor"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/lock"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// TracerName names the spans emitted by the engine
const TracerName = "github.com/medflow/pharmacy-ledger/internal/pharmacy/service"

// Engine is the only writer of batch quantities. Every Apply runs as one
// unit: the batch quantity, the movement row and, for a reversal, the
// original's reversed flag commit together or not at all.
type Engine struct {
	stores    Stores
	registry  *RegistryService
	locker    lock.Locker
	settings  Settings
	publisher *events.PharmacyEventPublisher
	tracer    trace.Tracer
	logger    *logger.Logger
}

// NewEngine creates a new movement engine. A nil locker leaves
// serialization entirely to the stores.
func NewEngine(
	stores Stores,
	registry *RegistryService,
	locker lock.Locker,
	settings Settings,
	publisher *events.PharmacyEventPublisher,
	log *logger.Logger,
) *Engine {
	if locker == nil {
		locker = lock.Noop{}
	}
	return &Engine{
		stores:    stores,
		registry:  registry,
		locker:    locker,
		settings:  settings.withDefaults(),
		publisher: publisher,
		tracer:    otel.Tracer(TracerName),
		logger:    log.WithComponent("engine"),
	}
}

// Apply validates and records one movement and returns it with the batch as
// it stands after the commit. Apply never retries; ConcurrentModification
// is returned to the caller.
func (e *Engine) Apply(ctx context.Context, req domain.MovementRequest, a *actor.Actor) (*domain.Movement, *domain.Batch, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.apply")
	defer span.End()

	mv, batch, err := e.apply(ctx, req, a)
	if err != nil {
		code := errors.CodeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)

		log := e.logger.WithBatch(req.BatchID).WithError(err)
		if a != nil {
			log = log.WithActor(a.ID, a.Role)
		}
		ev := log.Warn().
			Str("code", code).
			Str("medicine_id", req.MedicineID).
			Int("quantity", req.Quantity)
		if req.Kind != nil {
			ev = ev.Str("type", string(req.Kind.Type()))
		}
		ev.Msg("movement rejected")
		return nil, nil, err
	}

	span.SetAttributes(
		attribute.String("movement.id", mv.ID),
		attribute.String("movement.type", string(mv.Type)),
		attribute.String("batch.id", mv.BatchID),
		attribute.Int("movement.delta", mv.SignedQuantity),
		attribute.Int("batch.quantity_after", mv.QuantityAfter),
	)
	span.SetStatus(codes.Ok, "movement applied")

	e.logger.WithBatch(mv.BatchID).Info().
		Str("movement_id", mv.ID).
		Str("type", string(mv.Type)).
		Int("delta", mv.SignedQuantity).
		Int("quantity_after", mv.QuantityAfter).
		Str("actor_id", mv.ActorID).
		Msg("movement applied")

	e.publisher.PublishMovementApplied(ctx, mv)
	return mv, batch, nil
}

// movementPlan is the validated outcome of steps 1 to 5
type movementPlan struct {
	medicine *domain.Medicine
	batch    *domain.Batch
	created  bool
	delta    int
	reason   string
	original *domain.Movement
}

func (e *Engine) apply(ctx context.Context, req domain.MovementRequest, a *actor.Actor) (*domain.Movement, *domain.Batch, error) {
	if !a.Valid() {
		return nil, nil, errors.MissingIdentity()
	}
	if req.Kind == nil {
		return nil, nil, errors.Validation(map[string]string{"type": "movement type is required"})
	}

	key, err := e.lockKey(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	release, err := e.locker.Acquire(ctx, key)
	if err != nil {
		if stderrors.Is(err, lock.ErrNotAcquired) {
			return nil, nil, domain.ConcurrentModification(req.BatchID)
		}
		return nil, nil, err
	}
	defer release()

	var (
		mv      *domain.Movement
		batch   *domain.Batch
		created *domain.Batch
	)
	err = e.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		plan, err := e.plan(ctx, req, a)
		if err != nil {
			return err
		}
		if plan.created {
			created = plan.batch
		}
		mv, batch, err = e.commit(ctx, req.Kind.Type(), plan, a)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if created != nil {
		e.publisher.PublishBatchCreated(ctx, created)
	}
	return mv, batch, nil
}

// lockKey names the per-batch lock. An inflow into a lot that does not
// exist yet locks the lot identity instead.
func (e *Engine) lockKey(ctx context.Context, req domain.MovementRequest) (string, error) {
	switch k := req.Kind.(type) {
	case domain.Estorno:
		orig, err := e.stores.Movements.GetMovement(ctx, k.OriginalMovementID)
		if err != nil {
			return "", err
		}
		return "batch:" + orig.BatchID, nil
	case domain.Entrada:
		if k.NewBatch != nil {
			lot := strings.TrimSpace(k.NewBatch.LotCode)
			b, err := e.stores.Batches.FindBatchByLot(ctx, req.MedicineID, lot)
			if err == nil {
				return "batch:" + b.ID, nil
			}
			if !stderrors.Is(err, domain.ErrBatchNotFound) {
				return "", err
			}
			return "lot:" + req.MedicineID + ":" + lot, nil
		}
	}
	return "batch:" + req.BatchID, nil
}

func (e *Engine) plan(ctx context.Context, req domain.MovementRequest, a *actor.Actor) (*movementPlan, error) {
	if k, ok := req.Kind.(domain.Estorno); ok {
		return e.planReversal(ctx, req, k)
	}

	// 1. Resolve medicine
	m, err := e.stores.Medicines.GetMedicine(ctx, req.MedicineID)
	if err != nil {
		return nil, err
	}
	entrada, isEntrada := req.Kind.(domain.Entrada)
	if isEntrada && !m.IsActive {
		return nil, domain.MedicineInactive(m.ID, m.Name)
	}

	// 2. Resolve batch
	p := &movementPlan{medicine: m}
	if isEntrada && entrada.NewBatch != nil {
		b, created, err := e.registry.getOrCreate(ctx, m, *entrada.NewBatch, a)
		if err != nil {
			return nil, err
		}
		if req.BatchID != "" && req.BatchID != b.ID {
			return nil, domain.InvalidBatchData("batch_id", "batch id does not match the lot code")
		}
		p.created = created
		req.BatchID = b.ID
	}
	if req.BatchID == "" {
		return nil, domain.InvalidBatchData("batch_id", "batch id is required")
	}
	p.batch, err = e.stores.Batches.LockBatch(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if p.batch.MedicineID != m.ID {
		return nil, domain.InvalidBatchData("batch_id", "batch belongs to another medicine")
	}

	// 3. Validate quantity
	if req.Quantity <= 0 || req.Quantity > domain.MaxQuantity {
		return nil, domain.InvalidQuantity(req.Quantity)
	}

	// 4. Type-specific rules
	switch k := req.Kind.(type) {
	case domain.Entrada:
		p.delta = req.Quantity
		p.reason = k.Reason
	case domain.Saida:
		if req.Quantity > p.batch.Quantity {
			return nil, domain.InsufficientStock(p.batch.Quantity, req.Quantity)
		}
		p.delta = -req.Quantity
		p.reason = k.Reason
	case domain.Ajuste:
		if strings.TrimSpace(k.Reason) == "" {
			return nil, domain.ReasonRequired()
		}
		switch k.Direction {
		case domain.Increase:
			p.delta = req.Quantity
		case domain.Decrease:
			p.delta = -req.Quantity
		default:
			return nil, errors.Validation(map[string]string{"direction": "direction must be INCREASE or DECREASE"})
		}
		p.reason = k.Reason
	default:
		return nil, errors.Validation(map[string]string{"type": "unsupported movement type"})
	}

	return p, nil
}

func (e *Engine) planReversal(ctx context.Context, req domain.MovementRequest, k domain.Estorno) (*movementPlan, error) {
	if strings.TrimSpace(k.Reason) == "" {
		return nil, domain.ReasonRequired()
	}

	orig, err := e.stores.Movements.LockMovement(ctx, k.OriginalMovementID)
	if err != nil {
		return nil, err
	}
	if orig.Type == domain.TypeEstorno {
		return nil, domain.ReversalNotAllowed(orig.ID)
	}
	if orig.IsReversed {
		return nil, domain.AlreadyReversed(orig.ID)
	}
	if req.BatchID != "" && req.BatchID != orig.BatchID {
		return nil, domain.InvalidBatchData("batch_id", "batch does not match the original movement")
	}
	if req.MedicineID != "" && req.MedicineID != orig.MedicineID {
		return nil, domain.InvalidMedicineData("medicine_id", "medicine does not match the original movement")
	}

	m, err := e.stores.Medicines.GetMedicine(ctx, orig.MedicineID)
	if err != nil {
		return nil, err
	}
	b, err := e.stores.Batches.LockBatch(ctx, orig.BatchID)
	if err != nil {
		return nil, err
	}

	delta := -orig.SignedQuantity
	if b.Quantity+delta < 0 {
		return nil, domain.ReversalWouldUnderflow(b.Quantity, -delta)
	}

	return &movementPlan{
		medicine: m,
		batch:    b,
		delta:    delta,
		reason:   k.Reason,
		original: orig,
	}, nil
}

// commit runs steps 5 to 7 inside the caller's unit
func (e *Engine) commit(ctx context.Context, t domain.MovementType, p *movementPlan, a *actor.Actor) (*domain.Movement, *domain.Batch, error) {
	before := p.batch.Quantity
	after := before + p.delta
	if after < 0 {
		return nil, nil, domain.NegativeResultRejected(before, p.delta)
	}
	if after > domain.MaxQuantity {
		return nil, nil, domain.QuantityOverflow(before, p.delta)
	}

	now := e.settings.now()
	updated, err := e.stores.Batches.UpdateBatchQuantity(ctx, p.batch.ID, p.batch.Version, after, now)
	if err != nil {
		return nil, nil, err
	}

	mv := &domain.Movement{
		ID:             uuid.New().String(),
		Type:           t,
		MedicineID:     p.medicine.ID,
		BatchID:        p.batch.ID,
		SignedQuantity: p.delta,
		QuantityBefore: before,
		QuantityAfter:  after,
		Reason:         domain.ReasonPtr(p.reason),
		ActorID:        a.ID,
		ActorName:      a.Name(),
		ActorRole:      a.Role,
		CreatedAt:      now,
	}
	if p.original != nil {
		origID := p.original.ID
		mv.OriginalMovementID = &origID
	}

	if err := e.stores.Movements.AppendMovement(ctx, mv); err != nil {
		return nil, nil, err
	}
	if p.original != nil {
		if err := e.stores.Movements.MarkReversed(ctx, p.original.ID); err != nil {
			return nil, nil, err
		}
	}

	return mv, updated, nil
}
