package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/rebooked/order-service/internal/faults"
	"github.com/rebooked/order-service/internal/redisx"
)

// OrderLock serializes gateway refund attempts for one order across
// service instances.
type OrderLock interface {
	Acquire(ctx context.Context, orderID string) (release func(), err error)
}

type redsyncLock struct{ rs *redsync.Redsync }

// NewRedisLock builds the production lock on top of redsync.
func NewRedisLock(rdb *redis.Client) OrderLock {
	return &redsyncLock{rs: redsync.New(redsyncredis.NewPool(rdb))}
}

func (l *redsyncLock) Acquire(ctx context.Context, orderID string) (func(), error) {
	mu := l.rs.NewMutex(
		fmt.Sprintf(redisx.KeyRefundLock, orderID),
		redsync.WithExpiry(30*time.Second),
		redsync.WithTries(3),
	)
	if err := mu.LockContext(ctx); err != nil {
		return nil, faults.Wrap(faults.KindConflict, "refund already in progress", err)
	}
	return func() { _, _ = mu.UnlockContext(ctx) }, nil
}
