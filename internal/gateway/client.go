package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the payment provider's HTTP API. The secret key doubles as
// the webhook signing secret.
type Client struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

type Intent struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type VerifyResult struct {
	Success      bool
	RemoteStatus string
	Amount       int64
	PaidAt       time.Time
	Raw          json.RawMessage
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize creates a payment intent. Amount is in the smallest currency
// unit; conversion from decimal prices is the caller's job.
func (c *Client) Initialize(ctx context.Context, email string, amount int64, reference, currency string, metadata map[string]string) (*Intent, error) {
	payload := map[string]any{
		"email":     email,
		"amount":    amount,
		"reference": reference,
		"currency":  currency,
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}

	env, err := c.postJSON(ctx, c.baseURL+"/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("gateway initialize rejected: %s", env.Message)
	}

	var intent Intent
	if err := json.Unmarshal(env.Data, &intent); err != nil {
		return nil, fmt.Errorf("decode initialize response: %w", err)
	}
	if intent.AuthorizationURL == "" {
		return nil, fmt.Errorf("gateway initialize returned no authorization url")
	}
	return &intent, nil
}

type verifyData struct {
	Status string `json:"status"`
	Amount int64  `json:"amount"`
	PaidAt string `json:"paid_at"`
}

// Verify queries the provider's authoritative status for a reference. It is
// a read and safe to call any number of times.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	env, raw, err := c.getJSON(ctx, c.baseURL+"/transaction/verify/"+reference)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("gateway verify rejected: %s", env.Message)
	}

	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	result := &VerifyResult{
		Success:      data.Status == "success",
		RemoteStatus: data.Status,
		Amount:       data.Amount,
		Raw:          raw,
	}
	if data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			result.PaidAt = t
		}
	}
	return result, nil
}

// VerifySignature recomputes the HMAC-SHA512 of the exact bytes received and
// compares it to the header value in constant time. The body must be the
// raw payload, untouched by any JSON round trip.
func (c *Client) VerifySignature(signature string, rawBody []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	env, _, err := c.do(req)
	return env, err
}

func (c *Client) getJSON(ctx context.Context, endpoint string) (*envelope, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*envelope, json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return nil, nil, fmt.Errorf("gateway http status %d: %s", resp.StatusCode, msg)
		}
		return nil, nil, fmt.Errorf("gateway http status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return &env, body, nil
}
