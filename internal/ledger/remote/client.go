// Package remote implements ledger.Service over the HTTP API, for Go
// consumers and the smoke tool.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tallybook.org/internal/ledger"
)

// Client talks to a tallybook API server.
type Client struct {
	base string
	http *http.Client
}

var _ ledger.Service = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a client with a sensible default timeout.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Create(ctx context.Context, in ledger.TransactionInput) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := c.do(ctx, http.MethodPost, "/v1/transactions", in, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) List(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	path := "/v1/transactions"
	if accountID != "" {
		path += "?account_id=" + url.QueryEscape(accountID)
	}
	var out struct {
		Items []ledger.Transaction `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) Replace(ctx context.Context, id string, in ledger.TransactionInput) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := c.do(ctx, http.MethodPut, "/v1/transactions/"+url.PathEscape(id), in, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/transactions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError maps API error responses back to ledger sentinels where
// the status code is unambiguous.
func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ledger.ErrNotFound
	case http.StatusBadRequest:
		if payload.Error != "" {
			return fmt.Errorf("bad request: %s", payload.Error)
		}
		return fmt.Errorf("bad request")
	default:
		if payload.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
}
