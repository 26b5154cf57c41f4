// Package domainsync notifies an external edge (DNS, TLS, proxy) when a tenant adds or
// removes a custom domain. Delivery is best effort.
package domainsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Action is the kind of domain change.
type Action string

const (
	ActionAdded   Action = "added"
	ActionRemoved Action = "removed"
)

// Event is the webhook payload.
type Event struct {
	Action     Action    `json:"action"`
	TenantID   string    `json:"tenantId"`
	Domain     string    `json:"domain"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Syncer propagates a domain change.
type Syncer interface {
	Sync(ctx context.Context, ev Event) error
}

// Noop is used when no webhook is configured.
type Noop struct{}

func (Noop) Sync(context.Context, Event) error { return nil }

// Webhook POSTs events as JSON, retrying 5xx and network failures a few times.
type Webhook struct {
	url     string
	client  *http.Client
	retries uint64
}

// NewWebhook builds a webhook syncer with a 5s client timeout and 3 retries.
func NewWebhook(url string, client *http.Client) *Webhook {
	if url == "" {
		panic("domain sync webhook: url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Webhook{url: url, client: client, retries: 3}
}

func (w *Webhook) Sync(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode domain event: %w", err)
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("domain webhook status %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("domain webhook status %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, w.retries), ctx))
}
