// Package paystack is the payment gateway adapter: refunds, split
// subaccounts and payout transfers. Failures are tagged as GATEWAY_ERROR
// at the call site, subdivided into network/timeout/4xx/5xx.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rebooked/order-service/internal/faults"
)

type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func New(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// envelope is Paystack's standard response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type RefundResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Refund issues a full or partial refund against a charge reference.
func (c *Client) Refund(ctx context.Context, transactionRef string, amountCents int, reason string) (RefundResult, error) {
	body := map[string]any{
		"transaction":   transactionRef,
		"amount":        amountCents,
		"merchant_note": reason,
	}
	var data struct {
		Status      string `json:"status"`
		Reference   string `json:"reference"`
		Transaction struct {
			Reference string `json:"reference"`
		} `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodPost, "/refund", body, &data); err != nil {
		return RefundResult{}, err
	}
	ref := data.Reference
	if ref == "" {
		ref = data.Transaction.Reference
	}
	return RefundResult{Reference: ref, Status: data.Status}, nil
}

type SubaccountInput struct {
	BusinessName  string
	BankCode      string
	AccountNumber string
	// Share of each settlement kept by the platform, percent.
	PercentageCharge float64
}

func (c *Client) CreateSubaccount(ctx context.Context, in SubaccountInput) (string, error) {
	body := map[string]any{
		"business_name":     in.BusinessName,
		"settlement_bank":   in.BankCode,
		"account_number":    in.AccountNumber,
		"percentage_charge": in.PercentageCharge,
	}
	var data struct {
		SubaccountCode string `json:"subaccount_code"`
	}
	if err := c.do(ctx, http.MethodPost, "/subaccount", body, &data); err != nil {
		return "", err
	}
	return data.SubaccountCode, nil
}

func (c *Client) UpdateSubaccount(ctx context.Context, code string, in SubaccountInput) error {
	body := map[string]any{
		"business_name":   in.BusinessName,
		"settlement_bank": in.BankCode,
		"account_number":  in.AccountNumber,
	}
	return c.do(ctx, http.MethodPut, "/subaccount/"+code, body, nil)
}

type TransferResult struct {
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// Transfer releases escrowed funds to a subaccount. Reference must be
// deterministic per payout so gateway-side dedup makes retries safe.
func (c *Client) Transfer(ctx context.Context, subaccountCode string, amountCents int, reason, reference string) (TransferResult, error) {
	body := map[string]any{
		"source":    "balance",
		"recipient": subaccountCode,
		"amount":    amountCents,
		"reason":    reason,
		"reference": reference,
	}
	var out TransferResult
	if err := c.do(ctx, http.MethodPost, "/transfer", body, &out); err != nil {
		return TransferResult{}, err
	}
	return out, nil
}

// VerifyWebhook checks the x-paystack-signature header (HMAC-SHA512 of
// the raw body under the secret key).
func (c *Client) VerifyWebhook(signature string, body []byte) bool {
	mac := hmac.New(sha512.New, []byte(c.secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return faults.Gateway(faults.GatewayTimeout, "paystack timeout", err)
		}
		return faults.Gateway(faults.GatewayNetwork, "paystack unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return faults.Gateway(faults.GatewayNetwork, "paystack read body", err)
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode >= 500 {
		return faults.Gateway(faults.GatewayServer, fmt.Sprintf("paystack %d: %s", resp.StatusCode, env.Message), nil)
	}
	if resp.StatusCode >= 400 || !env.Status {
		return faults.Gateway(faults.GatewayClient, fmt.Sprintf("paystack rejected: %s", env.Message), nil)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return faults.Gateway(faults.GatewayServer, "paystack malformed response", err)
		}
	}
	return nil
}
