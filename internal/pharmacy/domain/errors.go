package domain

import (
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"github.com/medflow/pharmacy-ledger/pkg/errors"
)

// Ledger error kinds. Every constructor below wraps one of these so callers
// can match with errors.Is regardless of message or locale.
var (
	ErrMedicineNotFound       = stderrors.New("medicine not found")
	ErrBatchNotFound          = stderrors.New("batch not found")
	ErrMovementNotFound       = stderrors.New("movement not found")
	ErrInvalidMedicineData    = stderrors.New("invalid medicine data")
	ErrInvalidBatchData       = stderrors.New("invalid batch data")
	ErrInvalidQuantity        = stderrors.New("invalid quantity")
	ErrInsufficientStock      = stderrors.New("insufficient stock")
	ErrReasonRequired         = stderrors.New("reason required")
	ErrAlreadyReversed        = stderrors.New("movement already reversed")
	ErrReversalNotAllowed     = stderrors.New("reversal not allowed")
	ErrReversalWouldUnderflow = stderrors.New("reversal would underflow")
	ErrNegativeResultRejected = stderrors.New("negative result rejected")
	ErrConcurrentModification = stderrors.New("concurrent modification")
)

// Error codes exposed to API clients
const (
	CodeMedicineNotFound       = "MEDICINE_NOT_FOUND"
	CodeBatchNotFound          = "BATCH_NOT_FOUND"
	CodeMovementNotFound       = "MOVEMENT_NOT_FOUND"
	CodeInvalidMedicineData    = "INVALID_MEDICINE_DATA"
	CodeInvalidBatchData       = "INVALID_BATCH_DATA"
	CodeInvalidQuantity        = "INVALID_QUANTITY"
	CodeInsufficientStock      = "INSUFFICIENT_STOCK"
	CodeReasonRequired         = "REASON_REQUIRED"
	CodeAlreadyReversed        = "ALREADY_REVERSED"
	CodeReversalNotAllowed     = "REVERSAL_NOT_ALLOWED"
	CodeReversalWouldUnderflow = "REVERSAL_WOULD_UNDERFLOW"
	CodeNegativeResultRejected = "NEGATIVE_RESULT_REJECTED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
)

func MedicineNotFound(id string) *errors.AppError {
	return errors.NewWithKey(CodeMedicineNotFound, "ledger.medicine_not_found", http.StatusNotFound).
		WithCause(ErrMedicineNotFound).
		WithDetails(map[string]string{"medicine_id": id})
}

// MedicineInactive rejects inflow into a deactivated medicine. It is a
// MedicineNotFound as far as callers matching on kind are concerned.
func MedicineInactive(id, name string) *errors.AppError {
	return errors.NewWithKey(CodeMedicineNotFound, "ledger.medicine_inactive", http.StatusNotFound,
		map[string]string{"name": name}).
		WithCause(ErrMedicineNotFound).
		WithDetails(map[string]string{"medicine_id": id, "inactive": "true"})
}

func BatchNotFound(id string) *errors.AppError {
	return errors.NewWithKey(CodeBatchNotFound, "ledger.batch_not_found", http.StatusNotFound).
		WithCause(ErrBatchNotFound).
		WithDetails(map[string]string{"batch_id": id})
}

func MovementNotFound(id string) *errors.AppError {
	return errors.NewWithKey(CodeMovementNotFound, "ledger.movement_not_found", http.StatusNotFound).
		WithCause(ErrMovementNotFound).
		WithDetails(map[string]string{"movement_id": id})
}

func InvalidMedicineData(field, reason string) *errors.AppError {
	return errors.NewWithKey(CodeInvalidMedicineData, "ledger.invalid_medicine_data", http.StatusBadRequest,
		map[string]string{"reason": reason}).
		WithCause(ErrInvalidMedicineData).
		WithDetails(map[string]string{field: reason})
}

func InvalidBatchData(field, reason string) *errors.AppError {
	return errors.NewWithKey(CodeInvalidBatchData, "ledger.invalid_batch_data", http.StatusBadRequest,
		map[string]string{"reason": reason}).
		WithCause(ErrInvalidBatchData).
		WithDetails(map[string]string{field: reason})
}

// MaxQuantity is the largest quantity a movement or a batch may hold. Batch
// and movement quantities are stored as 32-bit integers.
const MaxQuantity = math.MaxInt32

func InvalidQuantity(quantity int) *errors.AppError {
	return errors.NewWithKey(CodeInvalidQuantity, "ledger.invalid_quantity", http.StatusBadRequest,
		map[string]string{"max": strconv.Itoa(MaxQuantity)}).
		WithCause(ErrInvalidQuantity).
		WithDetails(map[string]string{"quantity": strconv.Itoa(quantity)})
}

// QuantityOverflow rejects a movement whose result would not fit in a batch
func QuantityOverflow(current, delta int) *errors.AppError {
	return errors.NewWithKey(CodeInvalidQuantity, "ledger.quantity_overflow", http.StatusUnprocessableEntity,
		map[string]string{"max": strconv.Itoa(MaxQuantity)}).
		WithCause(ErrInvalidQuantity).
		WithDetails(map[string]string{
			"current": strconv.Itoa(current),
			"delta":   strconv.Itoa(delta),
			"max":     strconv.Itoa(MaxQuantity),
		})
}

func InsufficientStock(available, requested int) *errors.AppError {
	a, r := strconv.Itoa(available), strconv.Itoa(requested)
	return errors.NewWithKey(CodeInsufficientStock, "ledger.insufficient_stock", http.StatusUnprocessableEntity,
		map[string]string{"available": a, "requested": r}).
		WithCause(ErrInsufficientStock).
		WithDetails(map[string]string{"available": a, "requested": r})
}

func ReasonRequired() *errors.AppError {
	return errors.NewWithKey(CodeReasonRequired, "ledger.reason_required", http.StatusBadRequest).
		WithCause(ErrReasonRequired).
		WithDetails(map[string]string{"reason": "required"})
}

func AlreadyReversed(movementID string) *errors.AppError {
	return errors.NewWithKey(CodeAlreadyReversed, "ledger.already_reversed", http.StatusUnprocessableEntity).
		WithCause(ErrAlreadyReversed).
		WithDetails(map[string]string{"movement_id": movementID})
}

func ReversalNotAllowed(movementID string) *errors.AppError {
	return errors.NewWithKey(CodeReversalNotAllowed, "ledger.reversal_not_allowed", http.StatusUnprocessableEntity).
		WithCause(ErrReversalNotAllowed).
		WithDetails(map[string]string{"movement_id": movementID})
}

// ReversalWouldUnderflow reports that undoing an inflow needs more units than
// the batch still holds.
func ReversalWouldUnderflow(available, required int) *errors.AppError {
	a, r := strconv.Itoa(available), strconv.Itoa(required)
	return errors.NewWithKey(CodeReversalWouldUnderflow, "ledger.reversal_would_underflow", http.StatusUnprocessableEntity,
		map[string]string{"available": a, "required": r}).
		WithCause(ErrReversalWouldUnderflow).
		WithDetails(map[string]string{"available": a, "required": r})
}

func NegativeResultRejected(current, delta int) *errors.AppError {
	result := strconv.Itoa(current + delta)
	return errors.NewWithKey(CodeNegativeResultRejected, "ledger.negative_result_rejected", http.StatusUnprocessableEntity,
		map[string]string{"result": result}).
		WithCause(ErrNegativeResultRejected).
		WithDetails(map[string]string{
			"current": strconv.Itoa(current),
			"delta":   strconv.Itoa(delta),
			"result":  result,
		})
}

// ConcurrentModification is the only retryable ledger error
func ConcurrentModification(batchID string) *errors.AppError {
	return errors.NewWithKey(CodeConcurrentModification, "ledger.concurrent_modification", http.StatusConflict).
		WithCause(ErrConcurrentModification).
		WithDetails(map[string]string{"batch_id": batchID}).
		MarkRetryable()
}

// IsRetryable reports whether err is a transient conflict worth repeating
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrConcurrentModification) && errors.IsRetryable(err)
}
