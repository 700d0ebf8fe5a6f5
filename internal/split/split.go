// Package split computes the escrow payout split. All money is integer
// cents; the seller share is floored and the remainder folds into the
// platform fee, so the two parts always sum to the charge exactly.
package split

const sellerPercent = 90

type Split struct {
	SellerCents      int `json:"seller_amount_cents"`
	PlatformFeeCents int `json:"platform_fee_cents"`
}

func Calculate(amountCents int) Split {
	if amountCents <= 0 {
		return Split{}
	}
	seller := amountCents * sellerPercent / 100
	return Split{
		SellerCents:      seller,
		PlatformFeeCents: amountCents - seller,
	}
}
