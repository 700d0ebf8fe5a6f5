package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rebooked/order-service/internal/faults"
)

type Repo struct{ DB *pgxpool.Pool }

const cols = `id, order_id, transaction_ref, COALESCE(refund_reference,''),
	amount_cents, reason, status, COALESCE(error_message,''), created_at, updated_at`

func scan(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.OrderID, &t.TransactionRef, &t.RefundReference,
		&t.AmountCents, &t.Reason, &t.Status, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// GetSuccess returns the successful refund for an order, if any.
func (r *Repo) GetSuccess(ctx context.Context, orderID string) (Transaction, bool, error) {
	t, err := scan(r.DB.QueryRow(ctx,
		`SELECT `+cols+` FROM refund_transactions WHERE order_id=$1 AND status='success'`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

func (r *Repo) Insert(ctx context.Context, t Transaction) (Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.DB.Exec(ctx, `
		INSERT INTO refund_transactions(id, order_id, transaction_ref, amount_cents, reason, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`,
		t.ID, t.OrderID, t.TransactionRef, t.AmountCents, t.Reason, t.Status, now)
	if err != nil {
		return Transaction{}, faults.Wrap(faults.KindUpdateFailed, "insert refund", err)
	}
	return t, nil
}

func (r *Repo) SetResult(ctx context.Context, id string, status Status, refundRef, errMsg string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE refund_transactions
		SET status=$2, refund_reference=NULLIF($3,''), error_message=NULLIF($4,''), updated_at=now()
		WHERE id=$1`,
		id, status, refundRef, errMsg)
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "update refund", err)
	}
	return nil
}
