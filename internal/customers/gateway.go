package customers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/breaker"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
)

const (
	MsgUnavailable = "User information temporarily unavailable"
	MsgNotFound    = "User information not found"
)

// Customer is the directory's view of a user.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
}

// Info is display data attached to orders. Either the name fields or
// ErrorMessage is populated, never both.
type Info struct {
	Name         string `json:"name,omitempty"`
	Surname      string `json:"surname,omitempty"`
	Email        string `json:"email,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func Resolved(c Customer) Info {
	return Info{Name: c.Name, Surname: c.Surname, Email: c.Email}
}

func Placeholder(msg string) Info {
	return Info{ErrorMessage: msg}
}

func (i Info) Available() bool { return i.ErrorMessage == "" }

type Directory interface {
	GetByID(ctx context.Context, id string) (Customer, error)
	GetByIDs(ctx context.Context, ids []string) ([]Customer, error)
}

// Gateway shields callers from directory failures: every lookup answers,
// falling back to a placeholder when the directory errors, times out or the
// breaker is open.
type Gateway struct {
	Directory Directory
	Breaker   *breaker.Breaker
	Timeout   time.Duration
	Log       *slog.Logger
}

func (g *Gateway) LookupOne(ctx context.Context, id string) Info {
	return breaker.Call(g.Breaker,
		func() (Info, error) {
			ctx, cancel := g.bound(ctx)
			defer cancel()
			c, err := g.Directory.GetByID(ctx, id)
			if errors.Is(err, ErrCustomerNotFound) {
				// the directory answered; not a health signal
				return Placeholder(MsgNotFound), nil
			}
			if err != nil {
				return Info{}, err
			}
			return Resolved(c), nil
		},
		func(err error) Info {
			metrics.LookupFallbacks.WithLabelValues("one").Inc()
			g.Log.Warn("customer lookup fell back", "breaker", g.Breaker.Name(), "user_id", id, "err", err)
			return Placeholder(MsgUnavailable)
		})
}

// LookupBatch resolves all ids with a single directory call. On failure every
// id gets the placeholder.
func (g *Gateway) LookupBatch(ctx context.Context, ids []string) map[string]Info {
	uniq := dedupe(ids)
	out := make(map[string]Info, len(uniq))
	if len(uniq) == 0 {
		return out
	}

	found := breaker.Call(g.Breaker,
		func() (map[string]Customer, error) {
			ctx, cancel := g.bound(ctx)
			defer cancel()
			cs, err := g.Directory.GetByIDs(ctx, uniq)
			if err != nil {
				return nil, err
			}
			m := make(map[string]Customer, len(cs))
			for _, c := range cs {
				m[c.ID] = c
			}
			return m, nil
		},
		func(err error) map[string]Customer {
			metrics.LookupFallbacks.WithLabelValues("batch").Inc()
			g.Log.Warn("customer batch lookup fell back", "breaker", g.Breaker.Name(), "count", len(uniq), "err", err)
			return nil
		})

	for _, id := range uniq {
		switch c, ok := found[id]; {
		case found == nil:
			out[id] = Placeholder(MsgUnavailable)
		case !ok:
			out[id] = Placeholder(MsgNotFound)
		default:
			out[id] = Resolved(c)
		}
	}
	return out
}

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.Timeout)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// BreakerGauge exports breaker transitions to Prometheus.
func BreakerGauge(name string, _, to breaker.State) {
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
}
