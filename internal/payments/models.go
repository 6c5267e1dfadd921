package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Decided reports whether the record already carries a final outcome.
func (s Status) Decided() bool { return s == StatusSuccess || s == StatusFailed }

// Record is the payment attempt for one order. OrderID is the key, so an
// order is never charged twice.
type Record struct {
	OrderID   string
	OwnerID   string
	Amount    decimal.Decimal
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}
