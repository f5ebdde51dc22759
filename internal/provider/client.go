// Package provider implements the admin client for the upstream webhook
// provider: list, get, create/update, add-wallets, remove-wallets, and
// delete. These calls provision the provider's own webhook configuration
// and never touch the core pipeline at runtime.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook is the upstream provider's webhook resource.
type Webhook struct {
	ID               string   `json:"webhookID"`
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
}

// CreateWebhookRequest is the body for provisioning a new webhook.
type CreateWebhookRequest struct {
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
}

// Client calls the upstream provider's admin API over HTTPS with a fixed
// 5s timeout per call, the same outbound-call budget every other
// component in the pipeline uses.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a provider admin Client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// List returns every webhook registered under this account.
func (c *Client) List(ctx context.Context) ([]Webhook, error) {
	var webhooks []Webhook
	if err := c.do(ctx, http.MethodGet, "/webhooks", nil, &webhooks); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooks, nil
}

// Get fetches a single webhook by id.
func (c *Client) Get(ctx context.Context, id string) (*Webhook, error) {
	var webhook Webhook
	if err := c.do(ctx, http.MethodGet, "/webhooks/"+id, nil, &webhook); err != nil {
		return nil, fmt.Errorf("get webhook %s: %w", id, err)
	}
	return &webhook, nil
}

// Create provisions a new webhook.
func (c *Client) Create(ctx context.Context, req CreateWebhookRequest) (*Webhook, error) {
	var webhook Webhook
	if err := c.do(ctx, http.MethodPost, "/webhooks", req, &webhook); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return &webhook, nil
}

// Update replaces an existing webhook's configuration.
func (c *Client) Update(ctx context.Context, id string, req CreateWebhookRequest) (*Webhook, error) {
	var webhook Webhook
	if err := c.do(ctx, http.MethodPut, "/webhooks/"+id, req, &webhook); err != nil {
		return nil, fmt.Errorf("update webhook %s: %w", id, err)
	}
	return &webhook, nil
}

// AddWallets appends addresses to the webhook's tracked account list.
func (c *Client) AddWallets(ctx context.Context, id string, addresses []string) (*Webhook, error) {
	webhook, err := c.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("add wallets: %w", err)
	}
	webhook.AccountAddresses = append(webhook.AccountAddresses, addresses...)
	return c.Update(ctx, id, CreateWebhookRequest{
		WebhookURL:       webhook.WebhookURL,
		TransactionTypes: webhook.TransactionTypes,
		AccountAddresses: webhook.AccountAddresses,
	})
}

// RemoveWallets removes addresses from the webhook's tracked account list.
func (c *Client) RemoveWallets(ctx context.Context, id string, addresses []string) (*Webhook, error) {
	webhook, err := c.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("remove wallets: %w", err)
	}
	remove := make(map[string]bool, len(addresses))
	for _, addr := range addresses {
		remove[addr] = true
	}
	kept := make([]string, 0, len(webhook.AccountAddresses))
	for _, addr := range webhook.AccountAddresses {
		if !remove[addr] {
			kept = append(kept, addr)
		}
	}
	return c.Update(ctx, id, CreateWebhookRequest{
		WebhookURL:       webhook.WebhookURL,
		TransactionTypes: webhook.TransactionTypes,
		AccountAddresses: kept,
	})
}

// Delete removes a webhook entirely.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/webhooks/"+id, nil, nil); err != nil {
		return fmt.Errorf("delete webhook %s: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?api-key="+c.apiKey, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
