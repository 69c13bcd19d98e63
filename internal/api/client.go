package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"kitchen-display/internal/domain"
)

var (
	// ErrAuth means the token was rejected (401/403). Fatal to the session.
	ErrAuth = errors.New("authorization rejected")
	// ErrNetwork marks transport-level failures; callers recover locally.
	ErrNetwork = errors.New("network failure")
)

// Client talks to the Orders API and the PIN-exchange endpoint. Every call
// takes a context and applies a per-request deadline, so orchestrator
// teardown cancels anything still in flight.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: timeout,
	}
}

// PinSession is the response of POST /kitchen/session.
type PinSession struct {
	IDToken      string `json:"idToken"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// ExchangePIN trades a 6-digit pairing PIN for kitchen session tokens.
func (c *Client) ExchangePIN(ctx context.Context, restaurantID, pin string) (PinSession, error) {
	body, _ := json.Marshal(map[string]string{"restaurantId": restaurantID, "pin": pin})
	var out PinSession
	if err := c.do(ctx, http.MethodPost, "/kitchen/session", "", bytes.NewReader(body), &out); err != nil {
		return PinSession{}, err
	}
	if out.IDToken == "" {
		return PinSession{}, fmt.Errorf("pin exchange returned no token")
	}
	return out, nil
}

// FetchOrders returns the restaurant's active orders.
func (c *Client) FetchOrders(ctx context.Context, token string) ([]domain.RawOrder, error) {
	var out struct {
		Orders []domain.RawOrder `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/orders", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// PatchOrder transitions an order's status server-side. acceptedAt is sent
// only for the Accept transition.
func (c *Client) PatchOrder(ctx context.Context, token, orderID string, status domain.Status, acceptedAt *time.Time) error {
	payload := map[string]any{"status": status}
	if acceptedAt != nil {
		payload["acceptedAt"] = acceptedAt.UnixMilli()
	}
	body, _ := json.Marshal(payload)
	return c.do(ctx, http.MethodPatch, "/admin/order/"+orderID, token, bytes.NewReader(body), nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request failed: status %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
