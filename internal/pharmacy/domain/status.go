package domain

import "time"

// Status is derived on every read and never stored
type Status string

const (
	StatusOK       Status = "OK"
	StatusLow      Status = "LOW"
	StatusZero     Status = "ZERO"
	StatusExpiring Status = "EXPIRING"
	StatusExpired  Status = "EXPIRED"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusLow, StatusZero, StatusExpiring, StatusExpired:
		return true
	}
	return false
}

// DefaultExpiringWindowDays is how close to expiry a lot becomes EXPIRING
const DefaultExpiringWindowDays = 30

// Classifier computes batch and medicine status. It is a pure function of
// its inputs and the window.
type Classifier struct {
	ExpiringWindowDays int
}

// NewClassifier builds a classifier; a negative window falls back to the default
func NewClassifier(windowDays int) Classifier {
	if windowDays < 0 {
		windowDays = DefaultExpiringWindowDays
	}
	return Classifier{ExpiringWindowDays: windowDays}
}

// Classify returns the per-batch status: ZERO, EXPIRED, EXPIRING or OK, in
// that priority. LOW is never returned here; it belongs to the medicine.
func (c Classifier) Classify(b *Batch, today time.Time) Status {
	if b.Quantity == 0 {
		return StatusZero
	}

	day := DateOf(today)
	expiry := DateOf(b.ExpiryDate)
	if expiry.Before(day) {
		return StatusExpired
	}
	if DaysBetween(day, expiry) <= c.ExpiringWindowDays {
		return StatusExpiring
	}
	return StatusOK
}

// MedicineStock is the medicine-level aggregate over its batches
type MedicineStock struct {
	MedicineID     string     `json:"medicine_id"`
	TotalQuantity  int        `json:"total_quantity"`
	UsableQuantity int        `json:"usable_quantity"`
	Status         Status     `json:"status"`
	BelowMinimum   bool       `json:"below_minimum"`
	NearestExpiry  *time.Time `json:"nearest_expiry,omitempty"`
}

// ClassifyMedicine aggregates the batches of m. Usable stock excludes
// expired lots. Status is ZERO when nothing usable is left, LOW when a
// minimum is set and usable stock is under it, OK otherwise. BelowMinimum
// is set whenever a minimum exists and usable stock is under it, ZERO included.
func (c Classifier) ClassifyMedicine(m *Medicine, batches []*Batch, today time.Time) MedicineStock {
	stock := MedicineStock{MedicineID: m.ID}

	for _, b := range batches {
		if b.MedicineID != m.ID {
			continue
		}
		stock.TotalQuantity += b.Quantity

		status := c.Classify(b, today)
		if status == StatusZero || status == StatusExpired {
			continue
		}
		stock.UsableQuantity += b.Quantity

		if stock.NearestExpiry == nil || b.ExpiryDate.Before(*stock.NearestExpiry) {
			expiry := b.ExpiryDate
			stock.NearestExpiry = &expiry
		}
	}

	stock.BelowMinimum = m.MinStock != nil && stock.UsableQuantity < *m.MinStock

	switch {
	case stock.UsableQuantity == 0:
		stock.Status = StatusZero
	case stock.BelowMinimum:
		stock.Status = StatusLow
	default:
		stock.Status = StatusOK
	}

	return stock
}

// DaysBetween returns whole calendar days from a to b
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

var defaultClassifier = NewClassifier(DefaultExpiringWindowDays)

// Classify uses the default 30 day window
func Classify(b *Batch, today time.Time) Status {
	return defaultClassifier.Classify(b, today)
}

// ClassifyMedicine uses the default 30 day window
func ClassifyMedicine(m *Medicine, batches []*Batch, today time.Time) MedicineStock {
	return defaultClassifier.ClassifyMedicine(m, batches, today)
}
