// Package bridge is the outbound client for the WhatsApp bridge API. It only
// translates transport results into typed errors; retry policy lives with the
// caller (the delivery guard).
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.green-api.com"

// Typed transport failures. The delivery guard branches on these; everything
// else is treated as transient.
var (
	ErrAuth        = errors.New("bridge: authentication rejected")
	ErrRateLimited = errors.New("bridge: rate limited")
)

// DeliverResult is the bridge's acknowledgement of an accepted message.
type DeliverResult struct {
	MessageID string `json:"idMessage"`
}

// Transport is the outbound delivery contract the guard depends on.
type Transport interface {
	Deliver(ctx context.Context, instanceID, token, contactID, body string) (*DeliverResult, error)
}

// Client talks to a Green-API-compatible bridge over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the bridge endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// New creates a bridge client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ChatID normalizes a contact identifier into the bridge's chat id format.
func ChatID(contactID string) string {
	if strings.Contains(contactID, "@") {
		return contactID
	}
	return contactID + "@c.us"
}

// Deliver posts one text message. Auth and rate-limit responses map to the
// sentinel errors above; other non-2xx statuses return a plain error the
// caller classifies as transient.
func (c *Client) Deliver(ctx context.Context, instanceID, token, contactID, body string) (*DeliverResult, error) {
	url := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", c.baseURL, instanceID, token)

	payload, err := json.Marshal(map[string]string{
		"chatId":  ChatID(contactID),
		"message": body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("bridge status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var result DeliverResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode bridge response: %w", err)
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
