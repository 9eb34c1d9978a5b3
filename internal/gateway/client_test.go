package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"atelierstore/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "sk_test_secret"

func sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	c := gateway.NewClient("https://example.test", secret, time.Second)
	body := []byte(`{"event":"charge.success","data":{"reference":"r1","amount":2000}}`)

	assert.True(t, c.VerifySignature(sign(body), body))

	tampered := []byte(`{"event":"charge.success","data":{"reference":"r1","amount":9999}}`)
	assert.False(t, c.VerifySignature(sign(body), tampered))
	assert.False(t, c.VerifySignature("", body))
	assert.False(t, c.VerifySignature("deadbeef", body))
}

func TestInitialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		require.Equal(t, "Bearer "+secret, r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "Authorization URL created",
			"data": {
				"authorization_url": "https://pay.example/abc123",
				"access_code": "abc123",
				"reference": "1700000000-u1-a1b2c3d4e5f6"
			}
		}`))
	}))
	defer srv.Close()

	c := gateway.NewClient(srv.URL, secret, time.Second)
	intent, err := c.Initialize(context.Background(), "buyer@example.com", 2500, "1700000000-u1-a1b2c3d4e5f6", "EUR", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc123", intent.AuthorizationURL)
	assert.Equal(t, "abc123", intent.AccessCode)
}

func TestInitializeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": false, "message": "Invalid amount"}`))
	}))
	defer srv.Close()

	c := gateway.NewClient(srv.URL, secret, time.Second)
	_, err := c.Initialize(context.Background(), "buyer@example.com", -1, "ref", "EUR", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid amount")
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/verify/ref-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"status": true,
			"data": {"status": "success", "amount": 2000, "paid_at": "2026-08-29T10:30:00Z"}
		}`))
	}))
	defer srv.Close()

	c := gateway.NewClient(srv.URL, secret, time.Second)
	res, err := c.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "success", res.RemoteStatus)
	assert.Equal(t, int64(2000), res.Amount)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC), res.PaidAt)
	assert.NotEmpty(t, res.Raw)
}

func TestVerifyNotPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": true, "data": {"status": "abandoned", "amount": 0}}`))
	}))
	defer srv.Close()

	c := gateway.NewClient(srv.URL, secret, time.Second)
	res, err := c.Verify(context.Background(), "ref-2")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "abandoned", res.RemoteStatus)
}

func TestVerifyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := gateway.NewClient(srv.URL, secret, time.Second)
	_, err := c.Verify(context.Background(), "ref-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
