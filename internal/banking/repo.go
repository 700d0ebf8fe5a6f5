package banking

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

// sealed is the storage form of a subaccount.
type sealed struct {
	ID             string
	SellerID       string
	SubaccountCode string
	BusinessName   string
	BankCodeEnc    string
	AccountEnc     string
	KeyHash        string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *Repo) getActive(ctx context.Context, sellerID string) (sealed, error) {
	var s sealed
	err := r.DB.QueryRow(ctx, `
		SELECT id, seller_id, subaccount_code, business_name,
		       bank_code_enc, account_number_enc, key_hash, active, created_at, updated_at
		FROM banking_subaccounts
		WHERE seller_id=$1 AND active`, sellerID).
		Scan(&s.ID, &s.SellerID, &s.SubaccountCode, &s.BusinessName,
			&s.BankCodeEnc, &s.AccountEnc, &s.KeyHash, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sealed{}, faults.Newf(faults.KindNotFound, "no active banking details for seller")
	}
	return s, err
}

// Replace deactivates any existing record for the seller and inserts the
// new one in a single transaction, keeping "one active row per seller".
func (r *Repo) replace(ctx context.Context, s sealed) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "begin banking tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE banking_subaccounts SET active=false, updated_at=now() WHERE seller_id=$1 AND active`,
		s.SellerID); err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "deactivate banking row", err)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO banking_subaccounts(id, seller_id, subaccount_code, business_name,
		                                bank_code_enc, account_number_enc, key_hash, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,true)`,
		s.ID, s.SellerID, s.SubaccountCode, s.BusinessName,
		s.BankCodeEnc, s.AccountEnc, s.KeyHash); err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "insert banking row", err)
	}
	return tx.Commit(ctx)
}

// Deactivate soft-removes the seller's payout routing.
func (r *Repo) Deactivate(ctx context.Context, sellerID string) error {
	ct, err := r.DB.Exec(ctx,
		`UPDATE banking_subaccounts SET active=false, updated_at=now() WHERE seller_id=$1 AND active`,
		sellerID)
	if err != nil {
		return faults.Wrap(faults.KindUpdateFailed, "deactivate banking row", err)
	}
	if ct.RowsAffected() == 0 {
		return faults.Newf(faults.KindNotFound, "no active banking details for seller")
	}
	return nil
}
