package banking

import (
	"context"
	"regexp"
	"strings"

	"github.com/rebooked/order-service/internal/faults"
	"github.com/rebooked/order-service/internal/paystack"
)

// Gateway is the subaccount slice of the payment gateway.
type Gateway interface {
	CreateSubaccount(ctx context.Context, in paystack.SubaccountInput) (string, error)
	UpdateSubaccount(ctx context.Context, code string, in paystack.SubaccountInput) error
}

// platformSharePercent is what the platform keeps of each settlement.
const platformSharePercent = 10

type Service struct {
	Repo    *Repo
	Gateway Gateway
	Sealer  *Sealer
}

type SetupInput struct {
	BusinessName  string `json:"business_name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
}

var accountNumberRe = regexp.MustCompile(`^\d{6,17}$`)

func (in SetupInput) validate() error {
	if strings.TrimSpace(in.BusinessName) == "" {
		return faults.New(faults.KindValidation, "business_name is required")
	}
	if strings.TrimSpace(in.BankCode) == "" {
		return faults.New(faults.KindValidation, "bank_code is required")
	}
	if !accountNumberRe.MatchString(in.AccountNumber) {
		return faults.New(faults.KindValidation, "account_number must be 6-17 digits")
	}
	return nil
}

// Setup creates or updates the seller's gateway subaccount and stores
// the routing fields sealed. One active row per seller.
func (s *Service) Setup(ctx context.Context, sellerID string, in SetupInput) (Subaccount, error) {
	if err := in.validate(); err != nil {
		return Subaccount{}, err
	}

	gwIn := paystack.SubaccountInput{
		BusinessName:     in.BusinessName,
		BankCode:         in.BankCode,
		AccountNumber:    in.AccountNumber,
		PercentageCharge: platformSharePercent,
	}

	var code string
	existing, err := s.Repo.getActive(ctx, sellerID)
	switch {
	case err == nil:
		code = existing.SubaccountCode
		if err := s.Gateway.UpdateSubaccount(ctx, code, gwIn); err != nil {
			return Subaccount{}, err
		}
	case faults.Is(err, faults.KindNotFound):
		code, err = s.Gateway.CreateSubaccount(ctx, gwIn)
		if err != nil {
			return Subaccount{}, err
		}
	default:
		return Subaccount{}, err
	}

	bankEnc, err := s.Sealer.Seal(in.BankCode)
	if err != nil {
		return Subaccount{}, faults.Wrap(faults.KindUpdateFailed, "seal bank code", err)
	}
	acctEnc, err := s.Sealer.Seal(in.AccountNumber)
	if err != nil {
		return Subaccount{}, faults.Wrap(faults.KindUpdateFailed, "seal account number", err)
	}

	if err := s.Repo.replace(ctx, sealed{
		SellerID:       sellerID,
		SubaccountCode: code,
		BusinessName:   in.BusinessName,
		BankCodeEnc:    bankEnc,
		AccountEnc:     acctEnc,
		KeyHash:        s.Sealer.KeyHash(),
	}); err != nil {
		return Subaccount{}, err
	}

	return Subaccount{
		SellerID:       sellerID,
		SubaccountCode: code,
		BusinessName:   in.BusinessName,
		BankCode:       in.BankCode,
		AccountNumber:  in.AccountNumber,
		KeyHash:        s.Sealer.KeyHash(),
		Active:         true,
	}, nil
}

// Decrypt returns the caller's own banking details in plaintext. The
// stored key hash must match the live key.
func (s *Service) Decrypt(ctx context.Context, sellerID string) (Subaccount, error) {
	row, err := s.Repo.getActive(ctx, sellerID)
	if err != nil {
		return Subaccount{}, err
	}
	if row.KeyHash != s.Sealer.KeyHash() {
		return Subaccount{}, faults.New(faults.KindConflict, "banking record sealed under a rotated key")
	}
	bank, err := s.Sealer.Open(row.BankCodeEnc)
	if err != nil {
		return Subaccount{}, faults.Wrap(faults.KindUpdateFailed, "open bank code", err)
	}
	acct, err := s.Sealer.Open(row.AccountEnc)
	if err != nil {
		return Subaccount{}, faults.Wrap(faults.KindUpdateFailed, "open account number", err)
	}
	return Subaccount{
		ID:             row.ID,
		SellerID:       row.SellerID,
		SubaccountCode: row.SubaccountCode,
		BusinessName:   row.BusinessName,
		BankCode:       bank,
		AccountNumber:  acct,
		KeyHash:        row.KeyHash,
		Active:         row.Active,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

// ActiveCode resolves the gateway payee for payout release.
func (s *Service) ActiveCode(ctx context.Context, sellerID string) (string, error) {
	row, err := s.Repo.getActive(ctx, sellerID)
	if err != nil {
		return "", err
	}
	return row.SubaccountCode, nil
}

func (s *Service) Remove(ctx context.Context, sellerID string) error {
	return s.Repo.Deactivate(ctx, sellerID)
}
