package domain

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date wire format for expiry dates
const DateLayout = "2006-01-02"

// Batch is a lot of one medicine. Quantity is a cache of the sum of the
// signed quantities of its movements and is only written by the engine.
type Batch struct {
	ID            string    `db:"id" json:"id"`
	MedicineID    string    `db:"medicine_id" json:"medicine_id"`
	LotCode       string    `db:"lot_code" json:"lot_code"`
	ExpiryDate    time.Time `db:"expiry_date" json:"expiry_date"`
	Quantity      int       `db:"quantity" json:"quantity"`
	Version       int       `db:"version" json:"version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	CreatedBy     string    `db:"created_by" json:"created_by"`
	CreatedByName string    `db:"created_by_name" json:"created_by_name"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// NewBatchInput identifies a lot to find or create
type NewBatchInput struct {
	LotCode    string
	ExpiryDate string
}

// Parse validates the input and returns the normalized lot code and expiry
func (in NewBatchInput) Parse() (string, time.Time, error) {
	lot := strings.TrimSpace(in.LotCode)
	if lot == "" {
		return "", time.Time{}, InvalidBatchData("lot_code", "lot code is required")
	}
	expiry, err := ParseExpiry(in.ExpiryDate)
	if err != nil {
		return "", time.Time{}, err
	}
	return lot, expiry, nil
}

// ParseExpiry accepts YYYY-MM-DD or RFC 3339 and returns the calendar date
// at midnight UTC. The time-of-day of an RFC 3339 value is dropped in its
// own offset, so "2026-01-01T23:00:00-03:00" is 2026-01-01.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, InvalidBatchData("expiry_date", "expiry date is required")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return time.Time{}, InvalidBatchData("expiry_date", "expiry date must be YYYY-MM-DD")
}

// DateOf truncates t to its calendar date in t's own location, returned as
// midnight UTC so dates compare with plain time arithmetic.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BatchFilter narrows listBatches. Status is applied after classification.
type BatchFilter struct {
	MedicineID      string
	SearchTerm      string
	IncludeInactive bool
	Status          Status
}
