// Package orderstest provides in-memory collaborators for exercising
// orders.Service without Postgres, Redis or Kafka.
package orderstest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/customers"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// Store mirrors orders.Repo: Update applies fn to a copy and keeps it only
// when fn succeeds.
type Store struct {
	mu     sync.Mutex
	orders map[string]orders.Order
	seq    []string
}

func NewStore() *Store {
	return &Store{orders: map[string]orders.Order{}}
}

func clone(o orders.Order) orders.Order {
	o.Lines = slices.Clone(o.Lines)
	return o
}

func (s *Store) Create(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("duplicate order id %s", o.ID)
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.ID] = clone(*o)
	s.seq = append(s.seq, o.ID)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return clone(o), nil
}

func (s *Store) List(_ context.Context, f orders.ListFilter) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, id := range s.seq {
		o, ok := s.orders[id]
		if !ok {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, o.ID) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
			continue
		}
		if f.OwnerID != "" && o.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, clone(o))
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, id string, fn func(o *orders.Order) error) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	o := clone(cur)
	if err := fn(&o); err != nil {
		return orders.Order{}, err
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = clone(o)
	return o, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return orders.ErrOrderNotFound
	}
	delete(s.orders, id)
	return nil
}

// Put seeds an order as-is, bypassing Create.
func (s *Store) Put(o orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		s.seq = append(s.seq, o.ID)
	}
	s.orders[o.ID] = clone(o)
}

// Catalog answers FindItems after Delay, if set.
type Catalog struct {
	Delay time.Duration

	mu    sync.Mutex
	items map[string]orders.Item
}

func NewCatalog(items ...orders.Item) *Catalog {
	c := &Catalog{items: map[string]orders.Item{}}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

// SetPrice changes a catalog price after the fact.
func (c *Catalog) SetPrice(id string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := c.items[id]
	it.Price = price
	c.items[id] = it
}

func (c *Catalog) FindItems(ctx context.Context, ids []string) (map[string]orders.Item, error) {
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]orders.Item{}
	for _, id := range ids {
		if it, ok := c.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

// Customers resolves every id to a fixed customer and counts calls.
type Customers struct {
	mu         sync.Mutex
	Down       bool
	OneCalls   int
	BatchCalls int
}

func (c *Customers) info(id string) customers.Info {
	if c.Down {
		return customers.Placeholder(customers.MsgUnavailable)
	}
	return customers.Resolved(customers.Customer{ID: id, Name: "user-" + id, Surname: "test", Email: id + "@example.com"})
}

func (c *Customers) LookupOne(_ context.Context, id string) customers.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OneCalls++
	return c.info(id)
}

func (c *Customers) LookupBatch(_ context.Context, ids []string) map[string]customers.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BatchCalls++
	out := make(map[string]customers.Info, len(ids))
	for _, id := range ids {
		out[id] = c.info(id)
	}
	return out
}

// Publisher records published messages; Err makes every publish fail.
type Publisher struct {
	mu   sync.Mutex
	Err  error
	Msgs []kafka.Message
}

func (p *Publisher) Publish(_ context.Context, key, value []byte, headers ...kafka.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Msgs = append(p.Msgs, kafka.Message{Key: key, Value: value, Headers: headers})
	return nil
}

func (p *Publisher) Messages() []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Msgs)
}

type Cache struct {
	mu sync.Mutex
	m  map[string]orders.CachedStatus
}

func NewCache() *Cache { return &Cache{m: map[string]orders.CachedStatus{}} }

func (c *Cache) SetStatus(_ context.Context, id string, cs orders.CachedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = cs
	return nil
}

func (c *Cache) GetStatus(_ context.Context, id string) (orders.CachedStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.m[id]
	return cs, ok, nil
}

func (c *Cache) Forget(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
	return nil
}

// Idempotency mirrors redisx.Idempotency: the first claim of a key wins.
type Idempotency struct {
	mu sync.Mutex
	m  map[string]string
}

func NewIdempotency() *Idempotency { return &Idempotency{m: map[string]string{}} }

func (i *Idempotency) Claim(_ context.Context, scope, key, orderID string) (string, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if holder, ok := i.m[scope+":"+key]; ok {
		return holder, false, nil
	}
	i.m[scope+":"+key] = orderID
	return orderID, true, nil
}

func (i *Idempotency) Release(_ context.Context, scope, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.m, scope+":"+key)
	return nil
}
