package redisx

import (
	"fmt"
	"time"
)

const (
	// idem:order:create:{owner_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// order_status:{order_id} -> {"status": "...", "owner_id": "..."}
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{id} (id = event_id or order_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func idemKey(scope, key string) string   { return fmt.Sprintf(KeyIdemOrderCreate, scope, key) }
func statusKey(orderID string) string    { return fmt.Sprintf(KeyOrderStatus, orderID) }
func dedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
