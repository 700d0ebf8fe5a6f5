// Package courier wraps the courier REST API: shipment booking, the
// parcel locker directory and tracking lookups.
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rebooked/order-service/internal/faults"
	"github.com/rebooked/order-service/internal/redisx"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	rdb     *redis.Client // locker directory cache; optional
}

func New(baseURL, apiKey string, rdb *redis.Client) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 8 * time.Second},
		rdb:     rdb,
	}
}

type ShipmentInput struct {
	OrderID        string `json:"order_id"`
	DeliveryMethod string `json:"delivery_method"` // home | locker
	LockerID       string `json:"locker_id,omitempty"`
	SellerID       string `json:"sender_ref"`
	BuyerID        string `json:"recipient_ref"`
}

type Shipment struct {
	TrackingNumber    string    `json:"tracking_number"`
	LockerID          string    `json:"locker_id,omitempty"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
}

func (c *Client) CreateShipment(ctx context.Context, in ShipmentInput) (Shipment, error) {
	var out Shipment
	if err := c.do(ctx, http.MethodPost, "/shipments", in, &out); err != nil {
		return Shipment{}, err
	}
	if out.TrackingNumber == "" {
		return Shipment{}, faults.Gateway(faults.GatewayServer, "courier returned no tracking number", nil)
	}
	return out, nil
}

type Locker struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Province string `json:"province"`
	IsActive bool   `json:"is_active"`
}

// Lockers returns the locker directory, served from redis for an hour.
func (c *Client) Lockers(ctx context.Context) ([]Locker, error) {
	if c.rdb != nil {
		if s, err := c.rdb.Get(ctx, redisx.KeyLockerCache).Result(); err == nil && s != "" {
			var cached []Locker
			if json.Unmarshal([]byte(s), &cached) == nil {
				return cached, nil
			}
		}
	}
	var out []Locker
	if err := c.do(ctx, http.MethodGet, "/lockers", nil, &out); err != nil {
		return nil, err
	}
	if c.rdb != nil {
		if b, err := json.Marshal(out); err == nil {
			_ = c.rdb.Set(ctx, redisx.KeyLockerCache, b, redisx.TTLLockerCache).Err()
		}
	}
	return out, nil
}

type TrackingStatus struct {
	TrackingNumber string    `json:"tracking_number"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *Client) Track(ctx context.Context, trackingNumber string) (TrackingStatus, error) {
	var out TrackingStatus
	if err := c.do(ctx, http.MethodGet, "/tracking/"+trackingNumber, nil, &out); err != nil {
		return TrackingStatus{}, err
	}
	return out, nil
}

// Ping is the connectivity probe the commit dispatcher keys off.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return faults.Gateway(faults.GatewayTimeout, "courier timeout", err)
		}
		return faults.Gateway(faults.GatewayNetwork, "courier unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return faults.Gateway(faults.GatewayNetwork, "courier read body", err)
	}
	if resp.StatusCode >= 500 {
		return faults.Gateway(faults.GatewayServer, fmt.Sprintf("courier %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return faults.Gateway(faults.GatewayClient, fmt.Sprintf("courier rejected: %d %s", resp.StatusCode, string(raw)), nil)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return faults.Gateway(faults.GatewayServer, "courier malformed response", err)
		}
	}
	return nil
}
