package domain

import (
	"strings"
	"time"

	"github.com/medflow/pharmacy-ledger/pkg/actor"
)

// Medicine is catalog reference data. Medicines are never hard-deleted:
// historical movements point at them forever.
type Medicine struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Presentation  string    `db:"presentation" json:"presentation"`
	Unit          string    `db:"unit" json:"unit"`
	MinStock      *int      `db:"min_stock" json:"min_stock,omitempty"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	CreatedBy     string    `db:"created_by" json:"created_by"`
	CreatedByName string    `db:"created_by_name" json:"created_by_name"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
	UpdatedBy     string    `db:"updated_by" json:"updated_by"`
	UpdatedByName string    `db:"updated_by_name" json:"updated_by_name"`
}

// NewMedicineInput carries the fields of a catalog entry
type NewMedicineInput struct {
	Name         string
	Presentation string
	Unit         string
	MinStock     *int
}

// MedicineUpdate is a partial update; nil fields are left untouched.
// ClearMinStock removes the threshold.
type MedicineUpdate struct {
	Name          *string
	Presentation  *string
	Unit          *string
	MinStock      *int
	ClearMinStock bool
}

// Validate normalizes and checks a new catalog entry
func (in *NewMedicineInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Presentation = strings.TrimSpace(in.Presentation)
	in.Unit = strings.TrimSpace(in.Unit)

	if in.Name == "" {
		return InvalidMedicineData("name", "name is required")
	}
	if in.Presentation == "" {
		return InvalidMedicineData("presentation", "presentation is required")
	}
	if in.MinStock != nil && *in.MinStock < 0 {
		return InvalidMedicineData("min_stock", "min stock must not be negative")
	}
	return nil
}

// Apply merges u into m, validating the resulting record
func (u MedicineUpdate) Apply(m *Medicine) error {
	next := *m
	if u.Name != nil {
		next.Name = strings.TrimSpace(*u.Name)
	}
	if u.Presentation != nil {
		next.Presentation = strings.TrimSpace(*u.Presentation)
	}
	if u.Unit != nil {
		next.Unit = strings.TrimSpace(*u.Unit)
	}
	if u.ClearMinStock {
		next.MinStock = nil
	} else if u.MinStock != nil {
		v := *u.MinStock
		next.MinStock = &v
	}

	if next.Name == "" {
		return InvalidMedicineData("name", "name is required")
	}
	if next.Presentation == "" {
		return InvalidMedicineData("presentation", "presentation is required")
	}
	if next.MinStock != nil && *next.MinStock < 0 {
		return InvalidMedicineData("min_stock", "min stock must not be negative")
	}

	*m = next
	return nil
}

// Touch stamps the update audit fields
func (m *Medicine) Touch(a *actor.Actor, at time.Time) {
	m.UpdatedAt = at
	m.UpdatedBy = a.ID
	m.UpdatedByName = a.Name()
}

// MedicineFilter narrows listMedicines
type MedicineFilter struct {
	Search          string
	IncludeInactive bool
}
