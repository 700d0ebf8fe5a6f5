package banking

import "time"

// Subaccount is a seller's payout routing record. Account number and
// bank code are sealed at rest; SubaccountCode is the gateway-side payee
// used for split settlement.
type Subaccount struct {
	ID             string
	SellerID       string
	SubaccountCode string
	BusinessName   string
	BankCode       string // sealed in storage, plaintext in memory
	AccountNumber  string // sealed in storage, plaintext in memory
	KeyHash        string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
