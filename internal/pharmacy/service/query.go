package service

import (
	"context"
	"time"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

// QueryService is the read side: status-filtered batch listings, the
// movement history and the reconciliation check. It never writes.
type QueryService struct {
	stores   Stores
	settings Settings
	logger   *logger.Logger
}

// NewQueryService creates a new query service
func NewQueryService(stores Stores, settings Settings, log *logger.Logger) *QueryService {
	return &QueryService{
		stores:   stores,
		settings: settings.withDefaults(),
		logger:   log.WithComponent("query"),
	}
}

// BatchView is a batch with its derived status
type BatchView struct {
	*domain.Batch
	MedicineName string        `json:"medicine_name,omitempty"`
	Status       domain.Status `json:"status"`
	DaysToExpiry int           `json:"days_to_expiry"`
}

// BatchDetail is one batch with its medicine summary and latest movements
type BatchDetail struct {
	*BatchView
	Medicine  *domain.Medicine     `json:"medicine"`
	Stock     domain.MedicineStock `json:"stock"`
	Movements []*domain.Movement   `json:"movements"`
}

// MovementPage is one page of the ledger, newest first
type MovementPage struct {
	Items  []*domain.Movement `json:"items"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// DashboardStats summarizes the stock of active medicines
type DashboardStats struct {
	TotalMedicines      int                   `json:"total_medicines"`
	TotalBatches        int                   `json:"total_batches"`
	TotalUsableUnits    int                   `json:"total_usable_units"`
	BatchesByStatus     map[domain.Status]int `json:"batches_by_status"`
	LowStockMedicines   int                   `json:"low_stock_medicines"`
	OutOfStockMedicines int                   `json:"out_of_stock_medicines"`
}

// Reconciliation compares a batch's cached quantity with its ledger sum
type Reconciliation struct {
	BatchID        string `json:"batch_id"`
	CachedQuantity int    `json:"cached_quantity"`
	LedgerQuantity int    `json:"ledger_quantity"`
	Consistent     bool   `json:"consistent"`
}

// ListBatches returns batches matching f. A batch status filter matches the
// per-batch status; LOW matches every batch of a medicine whose usable stock
// is under its minimum, including medicines with nothing usable left.
func (s *QueryService) ListBatches(ctx context.Context, f domain.BatchFilter) ([]*BatchView, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errors.Validation(map[string]string{"status": "unknown status " + string(f.Status)})
	}

	batches, err := s.stores.Batches.ListBatches(ctx, f)
	if err != nil {
		return nil, err
	}

	medicines, err := s.medicinesOf(ctx, batches)
	if err != nil {
		return nil, err
	}

	today := s.settings.today()
	classifier := s.settings.classifier()

	var lowMedicines map[string]bool
	if f.Status == domain.StatusLow {
		lowMedicines, err = s.lowMedicines(ctx, medicines, today)
		if err != nil {
			return nil, err
		}
	}

	views := make([]*BatchView, 0, len(batches))
	for _, b := range batches {
		v := s.batchView(classifier, b, medicines[b.MedicineID], today)
		switch {
		case f.Status == "":
		case f.Status == domain.StatusLow:
			if !lowMedicines[b.MedicineID] {
				continue
			}
		case v.Status != f.Status:
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// GetBatch returns a batch with its status, its medicine's stock summary and
// the latest page of its movements
func (s *QueryService) GetBatch(ctx context.Context, id string) (*BatchDetail, error) {
	b, err := s.stores.Batches.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := s.stores.Medicines.GetMedicine(ctx, b.MedicineID)
	if err != nil {
		return nil, err
	}
	siblings, err := s.stores.Batches.ListBatchesByMedicine(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	movements, _, err := s.stores.Movements.ListMovements(ctx, domain.MovementFilter{BatchID: id})
	if err != nil {
		return nil, err
	}

	today := s.settings.today()
	classifier := s.settings.classifier()
	return &BatchDetail{
		BatchView: s.batchView(classifier, b, m, today),
		Medicine:  m,
		Stock:     classifier.ClassifyMedicine(m, siblings, today),
		Movements: movements,
	}, nil
}

// ListMovements returns one page of movements matching f
func (s *QueryService) ListMovements(ctx context.Context, f domain.MovementFilter) (*MovementPage, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, errors.Validation(map[string]string{"type": "unknown movement type " + string(f.Type)})
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, errors.Validation(map[string]string{"to": "date range end must be after its start"})
	}
	f.Normalize()

	items, total, err := s.stores.Movements.ListMovements(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.Movement{}
	}
	return &MovementPage{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Dashboard aggregates status counts over active medicines
func (s *QueryService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	medicines, err := s.stores.Medicines.ListMedicines(ctx, domain.MedicineFilter{})
	if err != nil {
		return nil, err
	}
	batches, err := s.stores.Batches.ListBatches(ctx, domain.BatchFilter{})
	if err != nil {
		return nil, err
	}

	today := s.settings.today()
	classifier := s.settings.classifier()

	stats := &DashboardStats{
		TotalMedicines: len(medicines),
		TotalBatches:   len(batches),
		BatchesByStatus: map[domain.Status]int{
			domain.StatusOK:       0,
			domain.StatusExpiring: 0,
			domain.StatusExpired:  0,
			domain.StatusZero:     0,
		},
	}

	byMedicine := make(map[string][]*domain.Batch)
	for _, b := range batches {
		stats.BatchesByStatus[classifier.Classify(b, today)]++
		byMedicine[b.MedicineID] = append(byMedicine[b.MedicineID], b)
	}

	for _, m := range medicines {
		stock := classifier.ClassifyMedicine(m, byMedicine[m.ID], today)
		stats.TotalUsableUnits += stock.UsableQuantity
		switch stock.Status {
		case domain.StatusLow:
			stats.LowStockMedicines++
		case domain.StatusZero:
			stats.OutOfStockMedicines++
		}
	}

	return stats, nil
}

// Reconcile recomputes a batch's quantity from its movements. A mismatch is
// logged; nothing is repaired.
func (s *QueryService) Reconcile(ctx context.Context, batchID string) (*Reconciliation, error) {
	r := &Reconciliation{BatchID: batchID}
	err := s.stores.Tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.stores.Batches.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		sum, err := s.stores.Movements.SumSignedQuantity(ctx, batchID)
		if err != nil {
			return err
		}
		r.CachedQuantity = b.Quantity
		r.LedgerQuantity = sum
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.Consistent = r.CachedQuantity == r.LedgerQuantity
	if !r.Consistent {
		s.logger.Error().
			Str("batch_id", batchID).
			Int("cached_quantity", r.CachedQuantity).
			Int("ledger_quantity", r.LedgerQuantity).
			Msg("batch quantity does not match ledger")
	}
	return r, nil
}

func (s *QueryService) batchView(c domain.Classifier, b *domain.Batch, m *domain.Medicine, today time.Time) *BatchView {
	v := &BatchView{
		Batch:        b,
		Status:       c.Classify(b, today),
		DaysToExpiry: domain.DaysBetween(today, b.ExpiryDate),
	}
	if m != nil {
		v.MedicineName = m.Name
	}
	return v
}

func (s *QueryService) medicinesOf(ctx context.Context, batches []*domain.Batch) (map[string]*domain.Medicine, error) {
	out := make(map[string]*domain.Medicine)
	for _, b := range batches {
		if _, ok := out[b.MedicineID]; ok {
			continue
		}
		m, err := s.stores.Medicines.GetMedicine(ctx, b.MedicineID)
		if err != nil {
			return nil, err
		}
		out[b.MedicineID] = m
	}
	return out, nil
}

// lowMedicines classifies each medicine over all of its batches, not just
// the ones the filter matched
func (s *QueryService) lowMedicines(ctx context.Context, medicines map[string]*domain.Medicine, today time.Time) (map[string]bool, error) {
	classifier := s.settings.classifier()
	low := make(map[string]bool, len(medicines))
	for id, m := range medicines {
		batches, err := s.stores.Batches.ListBatchesByMedicine(ctx, id)
		if err != nil {
			return nil, err
		}
		low[id] = classifier.ClassifyMedicine(m, batches, today).BelowMinimum
	}
	return low, nil
}
