package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rebooked/order-service/internal/orders"
)

type Repo struct{ DB *pgxpool.Pool }

// Insert is a single fire-and-forget write; callers log and move on when
// it fails.
func (r *Repo) Insert(ctx context.Context, n orders.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO notifications(id, user_id, order_id, type, title, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		n.ID, n.UserID, n.OrderID, n.Type, n.Title, n.Message, n.CreatedAt)
	return err
}
