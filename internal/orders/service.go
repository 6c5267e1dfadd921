package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/auth"
	"github.com/ariefcatur/go-order-saga/internal/customers"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	Update(ctx context.Context, id string, fn func(o *Order) error) (Order, error)
	Delete(ctx context.Context, id string) error
}

type Catalog interface {
	FindItems(ctx context.Context, ids []string) (map[string]Item, error)
}

type CustomerLookup interface {
	LookupOne(ctx context.Context, id string) customers.Info
	LookupBatch(ctx context.Context, ids []string) map[string]customers.Info
}

type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// CachedStatus is what the status cache keeps per order.
type CachedStatus struct {
	Status  Status `json:"status"`
	OwnerID string `json:"owner_id"`
}

type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, cs CachedStatus) error
	GetStatus(ctx context.Context, orderID string) (CachedStatus, bool, error)
	Forget(ctx context.Context, orderID string) error
}

// IdempotencyStore reserves a client key for one order id. Claim is first
// writer wins: it returns the id holding the key and whether the caller
// got it.
type IdempotencyStore interface {
	Claim(ctx context.Context, scope, key, orderID string) (string, bool, error)
	Release(ctx context.Context, scope, key string) error
}

// Service is the order orchestrator. Cache and Idem are optional.
type Service struct {
	Store       Store
	Catalog     Catalog
	Customers   CustomerLookup
	Publisher   Publisher
	Cache       StatusCache
	Idem        IdempotencyStore
	Log         *slog.Logger
	ServiceName string
}

type LineView struct {
	ItemID   string          `json:"itemId"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type OrderView struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"ownerId"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Items      []LineView      `json:"items"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Customer   customers.Info  `json:"customer"`
}

func NewView(o Order, info customers.Info) OrderView {
	items := make([]LineView, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, LineView{ItemID: l.ItemID, Name: l.ItemName, Price: l.UnitPrice, Quantity: l.Quantity})
	}
	return OrderView{
		ID:         o.ID,
		OwnerID:    o.OwnerID,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
		Items:      items,
		TotalPrice: o.Total(),
		Customer:   info,
	}
}

// CreateOrder persists a new order and announces it on orders.events. The
// announcement is best effort: a publish failure is logged and the order
// stays created. With an idempotency key, only the first request creates an
// order; repeats get that order back, or ErrRequestInFlight while it is
// still being created.
func (s *Service) CreateOrder(ctx context.Context, p auth.Principal, reqs []LineRequest, idemKey string) (OrderView, error) {
	id := uuid.NewString()
	claimed := false
	if idemKey != "" && s.Idem != nil {
		holder, ok, err := s.Idem.Claim(ctx, p.UserID, idemKey, id)
		switch {
		case err != nil:
			s.Log.Warn("idempotency store unavailable", "owner_id", p.UserID, "err", err)
		case !ok:
			return s.replay(ctx, p, holder)
		default:
			claimed = true
		}
	}

	o, err := s.create(ctx, p, id, reqs)
	if err != nil {
		if claimed {
			if rerr := s.Idem.Release(ctx, p.UserID, idemKey); rerr != nil {
				s.Log.Warn("idempotency key not released", "owner_id", p.UserID, "err", rerr)
			}
		}
		return OrderView{}, err
	}

	s.publishCreated(ctx, *o)
	s.Log.Info("order created", "order_id", o.ID, "owner_id", o.OwnerID, "total", o.Total().StringFixed(2))
	return NewView(*o, s.Customers.LookupOne(ctx, o.OwnerID)), nil
}

func (s *Service) create(ctx context.Context, p auth.Principal, id string, reqs []LineRequest) (*Order, error) {
	lines, err := s.resolveLines(ctx, reqs)
	if err != nil {
		return nil, s.fail("create", err, "owner_id", p.UserID)
	}
	o := NewOrder(id, p.UserID, lines)
	if err := s.Store.Create(ctx, o); err != nil {
		return nil, s.fail("create", fmt.Errorf("persist order: %w", err), "owner_id", p.UserID)
	}
	s.cache(ctx, *o)
	return o, nil
}

// replay answers a repeated create with the order its key already points to.
func (s *Service) replay(ctx context.Context, p auth.Principal, orderID string) (OrderView, error) {
	o, err := s.Store.Get(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return OrderView{}, s.fail("create", fmt.Errorf("%w: order %s", ErrRequestInFlight, orderID), "owner_id", p.UserID)
	}
	if err != nil {
		return OrderView{}, s.fail("create", err, "order_id", orderID)
	}
	return NewView(o, s.Customers.LookupOne(ctx, o.OwnerID)), nil
}

func (s *Service) GetOrder(ctx context.Context, p auth.Principal, id string) (OrderView, error) {
	o, err := s.Store.Get(ctx, id)
	if err != nil {
		return OrderView{}, s.fail("get", err, "order_id", id)
	}
	if err := s.authorize("get", p, o); err != nil {
		return OrderView{}, err
	}
	return NewView(o, s.Customers.LookupOne(ctx, o.OwnerID)), nil
}

// ListOrders enriches all results with a single batched customer lookup.
// Callers without privileges only see their own orders.
func (s *Service) ListOrders(ctx context.Context, p auth.Principal, f ListFilter) ([]OrderView, error) {
	if !p.Privileged() {
		f.OwnerID = p.UserID
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, s.fail("list", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, st))
		}
	}
	list, err := s.Store.List(ctx, f)
	if err != nil {
		return nil, s.fail("list", err)
	}

	owners := make([]string, 0, len(list))
	for _, o := range list {
		owners = append(owners, o.OwnerID)
	}
	var infos map[string]customers.Info
	if len(owners) > 0 {
		infos = s.Customers.LookupBatch(ctx, owners)
	}

	out := make([]OrderView, 0, len(list))
	for _, o := range list {
		out = append(out, NewView(o, infos[o.OwnerID]))
	}
	return out, nil
}

func (s *Service) UpdateOrder(ctx context.Context, p auth.Principal, id string, reqs []LineRequest) (OrderView, error) {
	cur, err := s.Store.Get(ctx, id)
	if err != nil {
		return OrderView{}, s.fail("update", err, "order_id", id)
	}
	if err := s.authorize("update", p, cur); err != nil {
		return OrderView{}, err
	}
	lines, err := s.resolveLines(ctx, reqs)
	if err != nil {
		return OrderView{}, s.fail("update", err, "order_id", id)
	}

	o, err := s.Store.Update(ctx, id, func(o *Order) error {
		return o.ReplaceItems(lines)
	})
	if err != nil {
		return OrderView{}, s.fail("update", err, "order_id", id)
	}
	return NewView(o, s.Customers.LookupOne(ctx, o.OwnerID)), nil
}

func (s *Service) CancelOrder(ctx context.Context, p auth.Principal, id string) (OrderView, error) {
	cur, err := s.Store.Get(ctx, id)
	if err != nil {
		return OrderView{}, s.fail("cancel", err, "order_id", id)
	}
	if err := s.authorize("cancel", p, cur); err != nil {
		return OrderView{}, err
	}

	o, err := s.Store.Update(ctx, id, func(o *Order) error { return o.Cancel() })
	if err != nil {
		return OrderView{}, s.fail("cancel", err, "order_id", id)
	}
	s.cache(ctx, o)
	s.Log.Info("order cancelled", "order_id", id, "by", p.UserID)
	return NewView(o, s.Customers.LookupOne(ctx, o.OwnerID)), nil
}

// DeleteOrder physically removes an order. Admin only.
func (s *Service) DeleteOrder(ctx context.Context, p auth.Principal, id string) error {
	if !p.Privileged() {
		s.Log.Warn("access denied", "op", "delete", "order_id", id, "requester", p.UserID)
		return fmt.Errorf("%w: delete requires admin", ErrAccessDenied)
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		return s.fail("delete", err, "order_id", id)
	}
	if s.Cache != nil {
		_ = s.Cache.Forget(ctx, id)
	}
	s.Log.Info("order deleted", "order_id", id, "by", p.UserID)
	return nil
}

// OrderStatus answers from the status cache when possible.
func (s *Service) OrderStatus(ctx context.Context, p auth.Principal, id string) (Status, error) {
	if s.Cache != nil {
		if cs, ok, err := s.Cache.GetStatus(ctx, id); err == nil && ok {
			if !Authorize(p.UserID, p.Role, cs.OwnerID) {
				return "", s.denied("status", p, id)
			}
			return cs.Status, nil
		}
	}
	o, err := s.Store.Get(ctx, id)
	if err != nil {
		return "", s.fail("status", err, "order_id", id)
	}
	if err := s.authorize("status", p, o); err != nil {
		return "", err
	}
	s.cache(ctx, o)
	return o.Status, nil
}

// HandlePaymentProcessed is the payments.events consumer handler.
func (s *Service) HandlePaymentProcessed(ctx context.Context, m kafka.Message) error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != EventPaymentProcessed {
		return nil
	}
	p, err := kafkax.UnwrapPayload[PaymentProcessedPayload](env.Payload)
	if err != nil {
		return err
	}
	return s.OnPaymentResult(ctx, p)
}

// OnPaymentResult applies a payment outcome. Repeated or unknown outcomes
// leave the order as it is.
func (s *Service) OnPaymentResult(ctx context.Context, ev PaymentProcessedPayload) error {
	var changed bool
	o, err := s.Store.Update(ctx, ev.OrderID, func(o *Order) error {
		changed = o.ApplyPaymentResult(ev.Status)
		return nil
	})
	if err != nil {
		return s.fail("payment-result", err, "order_id", ev.OrderID, "payment_status", ev.Status)
	}
	if !changed {
		s.Log.Debug("payment result ignored", "order_id", o.ID, "status", o.Status,
			"terminal", o.Status.Terminal(), "payment_status", ev.Status)
		return nil
	}
	s.cache(ctx, o)
	s.Log.Info("order settled", "order_id", o.ID, "status", o.Status)
	return nil
}

func (s *Service) resolveLines(ctx context.Context, reqs []LineRequest) ([]OrderLine, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInvalidInput)
	}
	items, err := s.Catalog.FindItems(ctx, itemIDs(reqs))
	if err != nil {
		return nil, fmt.Errorf("find items: %w", err)
	}
	return BuildLines(reqs, items)
}

func (s *Service) publishCreated(ctx context.Context, o Order) {
	env := NewEnvelope(EventOrderCreated, s.ServiceName, TraceID(ctx), o.ID, OrderCreatedPayload{
		OrderID:       o.ID,
		OwnerID:       o.OwnerID,
		PaymentAmount: o.Total(),
	})
	err := s.Publisher.Publish(ctx, PartitionKey(o.ID), kafkax.MustMarshal(env),
		kafkax.EventHeaders(EventOrderCreated, EventVersion)...)
	if err != nil {
		// payment will not be triggered for this order until it is republished
		s.Log.Error("order created event not published", "order_id", o.ID, "err", err)
	}
}

func (s *Service) cache(ctx context.Context, o Order) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.SetStatus(ctx, o.ID, CachedStatus{Status: o.Status, OwnerID: o.OwnerID}); err != nil {
		s.Log.Warn("status cache write failed", "order_id", o.ID, "err", err)
	}
}

func (s *Service) authorize(op string, p auth.Principal, o Order) error {
	if Authorize(p.UserID, p.Role, o.OwnerID) {
		return nil
	}
	return s.denied(op, p, o.ID)
}

func (s *Service) denied(op string, p auth.Principal, orderID string) error {
	s.Log.Warn("access denied", "op", op, "order_id", orderID, "requester", p.UserID, "role", p.Role)
	return fmt.Errorf("%w: order %s", ErrAccessDenied, orderID)
}

// fail logs err at the level its kind deserves and returns it.
func (s *Service) fail(op string, err error, attrs ...any) error {
	attrs = append(attrs, "op", op, "err", err)
	switch Kind(err) {
	case KindNotFound, KindConflict, KindInvalid:
		s.Log.Info("order operation rejected", attrs...)
	case KindAccessDenied:
		s.Log.Warn("access denied", attrs...)
	default:
		s.Log.Error("order operation failed", attrs...)
	}
	return err
}

func NewEnvelope(eventType, producer, traceID, orderID string, payload any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
}

type traceKey struct{}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
