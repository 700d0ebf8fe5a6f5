package redisx

import "time"

const (
	// Order status read cache: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"

	// Courier reachability probe result: probe:courier -> "up" | "down"
	KeyCourierProbe = "probe:courier"

	// Locker directory cache (full JSON list)
	KeyLockerCache = "courier:lockers"

	// Per-order refund mutex (redsync): lock:refund:{order_id}
	KeyRefundLock = "lock:refund:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLProbe       = 30 * time.Second
	TTLLockerCache = time.Hour
)
