package orders

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rebooked/order-service/internal/faults"
)

type Repo struct{ DB *pgxpool.Pool }

const orderCols = `id, buyer_id, seller_id, book_id, status, delivery_method,
	amount_cents, payment_reference,
	COALESCE(locker_id,''), COALESCE(tracking_number,''), COALESCE(decline_reason,''),
	committed_at, cancelled_at, estimated_payout, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.BookID, &o.Status, &o.DeliveryMethod,
		&o.AmountCents, &o.PaymentReference,
		&o.LockerID, &o.TrackingNumber, &o.DeclineReason,
		&o.CommittedAt, &o.CancelledAt, &o.EstimatedPayout, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, faults.Newf(faults.KindNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetForSeller returns NOT_FOUND both for a missing order and for a
// seller mismatch, so callers cannot probe other sellers' orders.
func (r *Repo) GetForSeller(ctx context.Context, orderID, sellerID string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id=$1 AND seller_id=$2`, orderID, sellerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, faults.Newf(faults.KindNotFound, "order %s not found for seller", orderID)
	}
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

// Create inserts a new order. The primary key backstops webhook retries
// that outlive the redis dedup window: a duplicate id is a CONFLICT, not
// an error worth retrying.
func (r *Repo) Create(ctx context.Context, o Order) error {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO orders(id, buyer_id, seller_id, book_id, status, delivery_method,
		                   amount_cents, payment_reference, locker_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''))
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.BuyerID, o.SellerID, o.BookID, o.Status, o.DeliveryMethod,
		o.AmountCents, o.PaymentReference, o.LockerID)
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "insert order", err)
	}
	if ct.RowsAffected() == 0 {
		return faults.Newf(faults.KindConflict, "order %s already exists", o.ID)
	}
	return nil
}

// CommitUpdate carries everything a commit writes in one statement.
type CommitUpdate struct {
	OrderID         string
	SellerID        string
	NewStatus       Status // committed, or courier_scheduled for booked locker shipments
	CommittedAt     time.Time
	LockerID        string
	TrackingNumber  string
	EstimatedPayout time.Time
}

// Commit performs the pending_commit transition as a single conditional
// UPDATE. The WHERE clause is the at-most-one-commit guarantee: a
// concurrent commit loses the race at the database, not in handler code.
func (r *Repo) Commit(ctx context.Context, u CommitUpdate) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status=$3, committed_at=$4,
		    locker_id=NULLIF($5,''), tracking_number=NULLIF($6,''),
		    estimated_payout=$7, updated_at=now()
		WHERE id=$1 AND seller_id=$2 AND status='pending_commit'`,
		u.OrderID, u.SellerID, u.NewStatus, u.CommittedAt,
		u.LockerID, u.TrackingNumber, u.EstimatedPayout)
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "commit order", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	return r.classifyMiss(ctx, u.OrderID, u.SellerID)
}

// Cancel marks a pending_commit order cancelled (seller decline or
// expiry sweep). Same conditional-update discipline as Commit.
func (r *Repo) Cancel(ctx context.Context, orderID, sellerID, reason string, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status='cancelled', decline_reason=$3, cancelled_at=$4, updated_at=now()
		WHERE id=$1 AND seller_id=$2 AND status='pending_commit'`,
		orderID, sellerID, reason, at)
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "cancel order", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	return r.classifyMiss(ctx, orderID, sellerID)
}

// MarkRefunded moves any non-terminal, not-yet-delivered order to the
// refunded terminal state (payment dispute path).
func (r *Repo) MarkRefunded(ctx context.Context, orderID string, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status='refunded', cancelled_at=$2, updated_at=now()
		WHERE id=$1 AND status NOT IN ('completed','cancelled','refunded')`,
		orderID, at)
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "mark refunded", err)
	}
	if ct.RowsAffected() == 0 {
		return faults.Newf(faults.KindConflict, "order %s is already terminal", orderID)
	}
	return nil
}

func (r *Repo) MarkShipped(ctx context.Context, orderID, trackingNumber string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status='shipped', tracking_number=COALESCE(NULLIF($2,''), tracking_number), updated_at=now()
		WHERE id=$1 AND status IN ('committed','courier_scheduled')`,
		orderID, trackingNumber)
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "mark shipped", err)
	}
	if ct.RowsAffected() == 0 {
		return faults.Newf(faults.KindConflict, "order %s not in a shippable state", orderID)
	}
	return nil
}

func (r *Repo) MarkCompleted(ctx context.Context, orderID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status='completed', updated_at=now()
		WHERE id=$1 AND status IN ('committed','courier_scheduled','shipped')`,
		orderID)
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "mark completed", err)
	}
	if ct.RowsAffected() == 0 {
		return faults.Newf(faults.KindConflict, "order %s not in a completable state", orderID)
	}
	return nil
}

// ListExpiredPending returns pending_commit orders created before cutoff,
// oldest first, for the auto-decline sweep.
func (r *Repo) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status='pending_commit' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// classifyMiss explains a zero-row conditional update: missing row /
// wrong seller -> NOT_FOUND, already advanced -> ALREADY_COMMITTED,
// terminal -> CONFLICT.
func (r *Repo) classifyMiss(ctx context.Context, orderID, sellerID string) error {
	var status Status
	var owner string
	err := r.DB.QueryRow(ctx, `SELECT status, seller_id FROM orders WHERE id=$1`, orderID).
		Scan(&status, &owner)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != sellerID) {
		return faults.Newf(faults.KindNotFound, "order %s not found for seller", orderID)
	}
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "classify order state", err)
	}
	switch status {
	case StatusCommitted, StatusCourierScheduled, StatusShipped, StatusCompleted:
		return faults.Newf(faults.KindAlreadyCommitted, "order %s already committed", orderID)
	default:
		return faults.Newf(faults.KindConflict, "order %s is %s", orderID, status)
	}
}
