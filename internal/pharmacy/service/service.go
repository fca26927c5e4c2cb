// Package service holds the pharmacy business logic: the medicine catalog,
// the batch registry, the movement engine and the read-side query index.
package service

import (
	"time"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/domain"
	"github.com/medflow/pharmacy-ledger/pkg/config"
)

// Stores bundles the persistence ports. Tx must be the manager the three
// stores join, so a unit started with Tx covers all of them.
type Stores struct {
	Tx        domain.TxManager
	Medicines domain.MedicineStore
	Batches   domain.BatchStore
	Movements domain.MovementStore
}

// Clock returns the current instant
type Clock func() time.Time

// Settings are the ledger knobs shared by the services
type Settings struct {
	ExpiringWindowDays int
	Location           *time.Location
	Clock              Clock
}

// SettingsFromConfig builds Settings from the ledger config section
func SettingsFromConfig(cfg *config.LedgerConfig) Settings {
	return Settings{
		ExpiringWindowDays: cfg.ExpiringWindowDays,
		Location:           cfg.Location(),
	}
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	return s
}

// now is the timestamp stamped on writes
func (s Settings) now() time.Time {
	return s.Clock().UTC()
}

// today is the current instant in the ledger timezone; status is computed
// against its calendar date
func (s Settings) today() time.Time {
	return s.Clock().In(s.Location)
}

func (s Settings) classifier() domain.Classifier {
	return domain.NewClassifier(s.ExpiringWindowDays)
}
