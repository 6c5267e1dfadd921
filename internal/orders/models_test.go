package orders

import (
	"errors"
	"testing"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/shopspring/decimal"
)

func processing() *Order {
	return NewOrder("o-1", "u-1", []OrderLine{
		{ItemID: "i-1", ItemName: "Mug", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 3},
	})
}

func TestTotalIsSumOfLines(t *testing.T) {
	o := processing()
	o.Lines = append(o.Lines, OrderLine{ItemID: "i-2", UnitPrice: decimal.RequireFromString("2.50"), Quantity: 2})
	if got := o.Total(); !got.Equal(decimal.RequireFromString("35.00")) {
		t.Fatalf("total = %s, want 35.00", got)
	}
	if got := (&Order{}).Total(); !got.IsZero() {
		t.Fatalf("empty order total = %s", got)
	}
}

func TestApplyPaymentResult(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		outcome string
		want    Status
		changed bool
	}{
		{"success completes", StatusProcessing, PaymentSuccess, StatusCompleted, true},
		{"failure marks failed", StatusProcessing, PaymentFailed, StatusPaymentFailed, true},
		{"unknown outcome ignored", StatusProcessing, "REFUNDED", StatusProcessing, false},
		{"completed stays", StatusCompleted, PaymentFailed, StatusCompleted, false},
		{"failed stays", StatusPaymentFailed, PaymentSuccess, StatusPaymentFailed, false},
		{"cancelled stays", StatusCancelled, PaymentSuccess, StatusCancelled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := processing()
			o.Status = tc.from
			if changed := o.ApplyPaymentResult(tc.outcome); changed != tc.changed {
				t.Fatalf("changed = %v, want %v", changed, tc.changed)
			}
			if o.Status != tc.want {
				t.Fatalf("status = %s, want %s", o.Status, tc.want)
			}
		})
	}
}

func TestApplyPaymentResultRedelivery(t *testing.T) {
	o := processing()
	o.ApplyPaymentResult(PaymentSuccess)
	if o.ApplyPaymentResult(PaymentSuccess) {
		t.Fatal("duplicate delivery must be a no-op")
	}
	if o.Status != StatusCompleted {
		t.Fatalf("status = %s", o.Status)
	}
}

func TestCancel(t *testing.T) {
	t.Run("twice is rejected", func(t *testing.T) {
		o := processing()
		if err := o.Cancel(); err != nil {
			t.Fatalf("first cancel: %v", err)
		}
		if err := o.Cancel(); !errors.Is(err, ErrAlreadyCancelled) {
			t.Fatalf("second cancel = %v, want ErrAlreadyCancelled", err)
		}
	})

	t.Run("completed conflicts", func(t *testing.T) {
		o := processing()
		o.ApplyPaymentResult(PaymentSuccess)
		if err := o.Cancel(); !errors.Is(err, ErrTerminalStateConflict) {
			t.Fatalf("cancel = %v, want ErrTerminalStateConflict", err)
		}
		if o.Status != StatusCompleted {
			t.Fatalf("status changed to %s", o.Status)
		}
	})

	t.Run("payment failed can be cancelled", func(t *testing.T) {
		o := processing()
		o.ApplyPaymentResult(PaymentFailed)
		if err := o.Cancel(); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if o.Status != StatusCancelled {
			t.Fatalf("status = %s", o.Status)
		}
	})

	t.Run("cancelled ignores later payment", func(t *testing.T) {
		o := processing()
		_ = o.Cancel()
		o.ApplyPaymentResult(PaymentSuccess)
		if err := o.Cancel(); !errors.Is(err, ErrAlreadyCancelled) {
			t.Fatalf("cancel = %v", err)
		}
	})
}

func TestReplaceItems(t *testing.T) {
	newLines := []OrderLine{{ItemID: "i-9", UnitPrice: decimal.NewFromInt(1), Quantity: 1}}

	o := processing()
	if err := o.ReplaceItems(newLines); err != nil {
		t.Fatal(err)
	}
	if !o.LinesReplaced() || len(o.Lines) != 1 || o.Lines[0].ItemID != "i-9" {
		t.Fatalf("lines = %+v", o.Lines)
	}

	for _, st := range []Status{StatusCompleted, StatusPaymentFailed, StatusCancelled} {
		o := processing()
		o.Status = st
		if err := o.ReplaceItems(newLines); !errors.Is(err, ErrNotEditable) {
			t.Fatalf("%s: err = %v, want ErrNotEditable", st, err)
		}
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(StatusProcessing, StatusCompleted) {
		t.Fatal("PROCESSING -> COMPLETED must be allowed")
	}
	if CanTransition(StatusCompleted, StatusProcessing) || CanTransition(StatusCancelled, StatusProcessing) {
		t.Fatal("terminal states must not move")
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() || StatusPaymentFailed.Terminal() {
		t.Fatal("terminal set mismatch")
	}
	if Status("NEW").Valid() {
		t.Fatal("NEW is not a status")
	}
}

func TestBuildLines(t *testing.T) {
	items := map[string]Item{"i-1": {ID: "i-1", Name: "Mug", Price: decimal.RequireFromString("10.00")}}

	lines, err := BuildLines([]LineRequest{{ItemID: "i-1", Quantity: 3}}, items)
	if err != nil {
		t.Fatal(err)
	}
	if lines[0].ItemName != "Mug" || !lines[0].Subtotal().Equal(decimal.RequireFromString("30")) {
		t.Fatalf("line = %+v", lines[0])
	}

	if _, err := BuildLines([]LineRequest{{ItemID: "nope", Quantity: 1}}, items); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("err = %v, want ErrItemNotFound", err)
	}
	if _, err := BuildLines([]LineRequest{{ItemID: "i-1", Quantity: 0}}, items); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := BuildLines(nil, items); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestAuthorize(t *testing.T) {
	if !Authorize("u-1", auth.RoleUser, "u-1") {
		t.Fatal("owner denied")
	}
	if Authorize("u-2", auth.RoleUser, "u-1") {
		t.Fatal("stranger allowed")
	}
	if !Authorize("u-2", auth.RoleAdmin, "u-1") {
		t.Fatal("admin denied")
	}
	if Authorize("", auth.RoleUser, "") {
		t.Fatal("anonymous caller allowed")
	}
}

func TestKind(t *testing.T) {
	cases := map[error]ErrorKind{
		ErrOrderNotFound:         KindNotFound,
		ErrItemNotFound:          KindNotFound,
		ErrAlreadyCancelled:      KindConflict,
		ErrTerminalStateConflict: KindConflict,
		ErrNotEditable:           KindConflict,
		ErrRequestInFlight:       KindConflict,
		ErrAccessDenied:          KindAccessDenied,
		ErrInvalidInput:          KindInvalid,
		errors.New("db down"):    KindInternal,
	}
	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Errorf("Kind(%v) = %v, want %v", err, got, want)
		}
	}
}

func TestCents(t *testing.T) {
	if got := ToCents(decimal.RequireFromString("10.005")); got != 1001 {
		t.Fatalf("ToCents = %d", got)
	}
	if got := FromCents(3000); !got.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("FromCents = %s", got)
	}
}
