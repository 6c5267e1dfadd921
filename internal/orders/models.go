package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Item is a catalog entry.
type Item struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// OrderLine belongs to exactly one order. UnitPrice is the catalog price at
// the moment the line was attached and is never re-read.
type OrderLine struct {
	ItemID    string
	ItemName  string
	UnitPrice decimal.Decimal
	Quantity  int
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID        string
	OwnerID   string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Lines     []OrderLine

	linesReplaced bool
}

// LineRequest asks for quantity units of a catalog item.
type LineRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// NewOrder builds an order in the initial state.
func NewOrder(id, ownerID string, lines []OrderLine) *Order {
	return &Order{ID: id, OwnerID: ownerID, Status: StatusProcessing, Lines: lines}
}

// Total is derived on every read.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ApplyPaymentResult moves a processing order to COMPLETED or PAYMENT_FAILED.
// Unknown outcomes and orders no longer processing are left untouched, so
// redelivered or newer events are harmless. It reports whether the status
// changed.
func (o *Order) ApplyPaymentResult(outcome string) bool {
	if o.Status != StatusProcessing {
		return false
	}
	switch outcome {
	case PaymentSuccess:
		o.Status = StatusCompleted
	case PaymentFailed:
		o.Status = StatusPaymentFailed
	default:
		return false
	}
	return true
}

func (o *Order) Cancel() error {
	if o.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	if o.Status.Terminal() || !CanTransition(o.Status, StatusCancelled) {
		return fmt.Errorf("%w: %s", ErrTerminalStateConflict, o.Status)
	}
	o.Status = StatusCancelled
	return nil
}

// ReplaceItems swaps the whole line set. Only processing orders are editable.
func (o *Order) ReplaceItems(lines []OrderLine) error {
	if o.Status != StatusProcessing {
		return fmt.Errorf("%w: status %s", ErrNotEditable, o.Status)
	}
	o.Lines = lines
	o.linesReplaced = true
	return nil
}

// LinesReplaced tells the repository to rewrite the line set.
func (o *Order) LinesReplaced() bool { return o.linesReplaced }

// BuildLines validates requests and captures names and prices from items.
func BuildLines(reqs []LineRequest, items map[string]Item) ([]OrderLine, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidInput)
	}
	lines := make([]OrderLine, 0, len(reqs))
	for _, r := range reqs {
		if r.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for item %s must be positive", ErrInvalidInput, r.ItemID)
		}
		it, ok := items[r.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, r.ItemID)
		}
		lines = append(lines, OrderLine{
			ItemID:    it.ID,
			ItemName:  it.Name,
			UnitPrice: it.Price,
			Quantity:  r.Quantity,
		})
	}
	return lines, nil
}

func itemIDs(reqs []LineRequest) []string {
	seen := make(map[string]bool, len(reqs))
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if !seen[r.ItemID] {
			seen[r.ItemID] = true
			out = append(out, r.ItemID)
		}
	}
	return out
}
