package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/segmentio/kafka-go"
)

type Records interface {
	Begin(ctx context.Context, rec Record) (Record, bool, error)
	Decide(ctx context.Context, orderID string, st Status) (Status, error)
}

type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Engine settles OrderCreated events. Dedup is optional.
type Engine struct {
	Records     Records
	Decider     Decider
	Publisher   Publisher
	Dedup       Deduper
	Log         *slog.Logger
	ServiceName string
}

// HandleOrderCreated is the orders.events consumer handler. Any returned
// error means the outcome was not acknowledged by the bus and the message
// must not be committed.
func (e *Engine) HandleOrderCreated(ctx context.Context, m kafka.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	if e.Dedup != nil {
		if seen, err := e.Dedup.Seen(ctx, env.EventID); err == nil && seen {
			e.Log.Debug("duplicate event skipped", "event_id", env.EventID)
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}
	st, err := e.Settle(ctx, p)
	if err != nil {
		return err
	}
	if err := e.publish(ctx, p.OrderID, st, env.TraceID); err != nil {
		return fmt.Errorf("publish payment result for %s: %w", p.OrderID, err)
	}

	if e.Dedup != nil {
		if err := e.Dedup.Mark(ctx, env.EventID); err != nil {
			e.Log.Warn("dedup mark failed", "event_id", env.EventID, "err", err)
		}
	}
	e.Log.Info("payment processed", "order_id", p.OrderID, "status", st, "amount", p.PaymentAmount.StringFixed(2))
	return nil
}

// Settle records the payment and decides it once. A redelivered request
// gets the outcome decided the first time.
func (e *Engine) Settle(ctx context.Context, p orders.OrderCreatedPayload) (Status, error) {
	rec, created, err := e.Records.Begin(ctx, Record{OrderID: p.OrderID, OwnerID: p.OwnerID, Amount: p.PaymentAmount})
	if err != nil {
		return "", fmt.Errorf("record payment %s: %w", p.OrderID, err)
	}
	if !created && rec.Status.Decided() {
		e.Log.Info("payment already decided", "order_id", p.OrderID, "status", rec.Status)
		return rec.Status, nil
	}

	st := e.Decider.Decide(ctx, p.OrderID, p.PaymentAmount)
	stored, err := e.Records.Decide(ctx, p.OrderID, st)
	if err != nil {
		return "", fmt.Errorf("store decision %s: %w", p.OrderID, err)
	}
	return stored, nil
}

func (e *Engine) publish(ctx context.Context, orderID string, st Status, traceID string) error {
	env := orders.NewEnvelope(orders.EventPaymentProcessed, e.ServiceName, traceID, orderID,
		orders.PaymentProcessedPayload{OrderID: orderID, Status: string(st)})
	return e.Publisher.Publish(ctx, orders.PartitionKey(orderID), kafkax.MustMarshal(env),
		kafkax.EventHeaders(orders.EventPaymentProcessed, orders.EventVersion)...)
}
