package payments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Decider turns a payment request into SUCCESS or FAILED. It never fails.
type Decider interface {
	Decide(ctx context.Context, orderID string, amount decimal.Decimal) Status
}

type DeciderFunc func(ctx context.Context, orderID string, amount decimal.Decimal) Status

func (f DeciderFunc) Decide(ctx context.Context, orderID string, amount decimal.Decimal) Status {
	return f(ctx, orderID, amount)
}

// Always returns a Decider with a fixed outcome.
func Always(st Status) Decider {
	return DeciderFunc(func(context.Context, string, decimal.Decimal) Status { return st })
}

// OracleDecider draws an integer in [1, 100] from an HTTP oracle and
// approves the payment when it is <= SuccessRate. When the oracle is
// unreachable or answers garbage the draw is made locally.
type OracleDecider struct {
	URL         string
	Client      *http.Client
	Timeout     time.Duration
	SuccessRate int
	Log         *slog.Logger

	// Local replaces the fallback draw in tests.
	Local func() int
}

func (d *OracleDecider) Decide(ctx context.Context, orderID string, _ decimal.Decimal) Status {
	n, err := d.draw(ctx)
	if err != nil {
		n = d.local()
		if d.Log != nil {
			d.Log.Warn("payment oracle unavailable, using local draw", "order_id", orderID, "err", err)
		}
	}
	if n <= d.SuccessRate {
		return StatusSuccess
	}
	return StatusFailed
}

func (d *OracleDecider) local() int {
	if d.Local != nil {
		return d.Local()
	}
	return rand.Intn(100) + 1
}

func (d *OracleDecider) draw(ctx context.Context) (int, error) {
	if d.URL == "" {
		return 0, fmt.Errorf("oracle not configured")
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return 0, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("oracle: unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("oracle: %w", err)
	}
	if n < 1 || n > 100 {
		return 0, fmt.Errorf("oracle: %d out of range", n)
	}
	return n, nil
}
