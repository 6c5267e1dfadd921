package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// StatusCache keeps the latest known status of each order.
type StatusCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *StatusCache) SetStatus(ctx context.Context, orderID string, cs orders.CachedStatus) error {
	b, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, statusKey(orderID), b, ttlOr(c.TTL, TTLStatusCache)).Err()
}

func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (orders.CachedStatus, bool, error) {
	b, err := c.RDB.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.CachedStatus{}, false, nil
	}
	if err != nil {
		return orders.CachedStatus{}, false, err
	}
	var cs orders.CachedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return orders.CachedStatus{}, false, err
	}
	return cs, true, nil
}

func (c *StatusCache) Forget(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, statusKey(orderID)).Err()
}

// Idempotency maps a client supplied key to the order it created. The key
// is claimed with SETNX before the order exists, so concurrent repeats of
// one request cannot both create an order.
type Idempotency struct {
	RDB *redis.Client
	TTL time.Duration
}

func (i *Idempotency) Claim(ctx context.Context, scope, key, orderID string) (string, bool, error) {
	k := idemKey(scope, key)
	ok, err := i.RDB.SetNX(ctx, k, orderID, ttlOr(i.TTL, TTLIdempotency)).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return orderID, true, nil
	}
	holder, err := i.RDB.Get(ctx, k).Result()
	if err != nil {
		return "", false, err
	}
	return holder, false, nil
}

func (i *Idempotency) Release(ctx context.Context, scope, key string) error {
	return i.RDB.Del(ctx, idemKey(scope, key)).Err()
}

// Dedup remembers which events a service has already handled.
type Dedup struct {
	RDB     *redis.Client
	Service string
	TTL     time.Duration
}

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.RDB, dedupKey(d.Service, id))
}

func (d *Dedup) Mark(ctx context.Context, id string) error {
	return d.RDB.Set(ctx, dedupKey(d.Service, id), 1, ttlOr(d.TTL, TTLDedup)).Err()
}

func ttlOr(ttl, def time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return def
}
