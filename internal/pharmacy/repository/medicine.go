package repository

import (
	"context"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/pkg/database"
)

const medicineColumns = `id, name, presentation, unit, min_stock, is_active,
	created_at, created_by, created_by_name, updated_at, updated_by, updated_by_name`

// MedicineRepository handles medicine persistence
type MedicineRepository struct {
	db *database.DB
}

// NewMedicineRepository creates a new medicine repository
func NewMedicineRepository(db *database.DB) *MedicineRepository {
	return &MedicineRepository{db: db}
}

var _ domain.MedicineStore = (*MedicineRepository)(nil)

// CreateMedicine inserts a catalog entry
func (r *MedicineRepository) CreateMedicine(ctx context.Context, m *domain.Medicine) error {
	query := `
		INSERT INTO medicines (
			id, name, presentation, unit, min_stock, is_active,
			created_at, created_by, created_by_name, updated_at, updated_by, updated_by_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Querier(ctx).ExecContext(ctx, query,
		m.ID, m.Name, m.Presentation, m.Unit, m.MinStock, m.IsActive,
		m.CreatedAt, m.CreatedBy, m.CreatedByName, m.UpdatedAt, m.UpdatedBy, m.UpdatedByName,
	)
	if err != nil {
		if database.IsCheckViolation(err, "medicines_name_not_blank") {
			return domain.InvalidMedicineData("name", "name is required")
		}
		if database.IsCheckViolation(err, "medicines_presentation_not_blank") {
			return domain.InvalidMedicineData("presentation", "presentation is required")
		}
		return mapWriteError(err, "")
	}
	return nil
}

// GetMedicine gets a medicine by ID
func (r *MedicineRepository) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	if !validID(id) {
		return nil, domain.MedicineNotFound(id)
	}

	var m domain.Medicine
	query := `SELECT ` + medicineColumns + ` FROM medicines WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &m, query, id); err != nil {
		if isNoRows(err) {
			return nil, domain.MedicineNotFound(id)
		}
		return nil, err
	}
	return &m, nil
}

// UpdateMedicine overwrites the mutable fields of a medicine
func (r *MedicineRepository) UpdateMedicine(ctx context.Context, m *domain.Medicine) error {
	if !validID(m.ID) {
		return domain.MedicineNotFound(m.ID)
	}

	query := `
		UPDATE medicines SET
			name = $2, presentation = $3, unit = $4, min_stock = $5, is_active = $6,
			updated_at = $7, updated_by = $8, updated_by_name = $9
		WHERE id = $1
	`

	result, err := r.db.Querier(ctx).ExecContext(ctx, query,
		m.ID, m.Name, m.Presentation, m.Unit, m.MinStock, m.IsActive,
		m.UpdatedAt, m.UpdatedBy, m.UpdatedByName,
	)
	if err != nil {
		return mapWriteError(err, "")
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return domain.MedicineNotFound(m.ID)
	}
	return nil
}

// ListMedicines lists medicines ordered by name
func (r *MedicineRepository) ListMedicines(ctx context.Context, f domain.MedicineFilter) ([]*domain.Medicine, error) {
	q := builder.Select(medicineColumns).From(medicinesTable)

	if !f.IncludeInactive {
		q = q.Where(squirrel.Eq{"is_active": true})
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + search + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"name": pattern},
			squirrel.ILike{"presentation": pattern},
		})
	}
	q = q.OrderBy("lower(name)", "id")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, buildErr("medicines", err)
	}

	medicines := []*domain.Medicine{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &medicines, query, args...); err != nil {
		return nil, err
	}
	return medicines, nil
}
