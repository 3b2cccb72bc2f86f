// Package khalti is a thin client for the Khalti ePayment API. It is pure
// request/response: initiate a payment and look it up later by pidx. Amounts
// are integer paisa end to end.
package khalti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/futsalmandu/futsalmandu/internal/fault"
)

// Lookup statuses reported by the gateway.
const (
	StatusCompleted    = "Completed"
	StatusPending      = "Pending"
	StatusInitiated    = "Initiated"
	StatusExpired      = "Expired"
	StatusUserCanceled = "User canceled"
	StatusRefunded     = "Refunded"
)

type Config struct {
	BaseURL   string
	SecretKey string
	SiteURL   string
	// Timeout bounds each gateway call so a hung gateway cannot hold a
	// reservation open indefinitely.
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("khalti base url and secret key are required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// CustomerInfo is optional payer metadata forwarded to the gateway.
type CustomerInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type InitiateRequest struct {
	PurchaseOrderID   string
	PurchaseOrderName string
	AmountPaisa       int64
	ReturnURL         string
	Customer          *CustomerInfo
}

type InitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
}

type LookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"` // paisa
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Refunded      bool   `json:"refunded"`
}

// Initiate registers a payment with the gateway and returns the pidx and the
// URL the payer must be redirected to.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.AmountPaisa <= 0 {
		return nil, fault.New(fault.KindValidation, "gateway amount must be positive")
	}
	if req.PurchaseOrderID == "" || req.ReturnURL == "" {
		return nil, fault.New(fault.KindValidation, "purchase order id and return url are required")
	}

	payload := map[string]any{
		"return_url":          req.ReturnURL,
		"website_url":         c.cfg.SiteURL,
		"amount":              req.AmountPaisa,
		"purchase_order_id":   req.PurchaseOrderID,
		"purchase_order_name": req.PurchaseOrderName,
	}
	if req.Customer != nil {
		payload["customer_info"] = req.Customer
	}

	var resp InitiateResponse
	if err := c.post(ctx, "/epayment/initiate/", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Pidx == "" || resp.PaymentURL == "" {
		return nil, fault.New(fault.KindGateway, "gateway returned an incomplete initiation")
	}
	return &resp, nil
}

// Lookup fetches the settled state of a payment by pidx.
func (c *Client) Lookup(ctx context.Context, pidx string) (*LookupResponse, error) {
	if pidx == "" {
		return nil, fault.New(fault.KindValidation, "pidx is required")
	}
	var resp LookupResponse
	if err := c.post(ctx, "/epayment/lookup/", map[string]any{"pidx": pidx}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.cfg.SecretKey)

	res, err := c.http.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindGateway, "gateway call failed", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fault.Wrap(fault.KindGateway, "read gateway response", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.Warn().
			Str("component", "khalti").
			Str("path", path).
			Int("status_code", res.StatusCode).
			Msg("Gateway rejected request")
		return fault.Newf(fault.KindGateway, "gateway responded %d: %s", res.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fault.Wrap(fault.KindGateway, "parse gateway response", err)
	}
	return nil
}
