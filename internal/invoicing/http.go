package invoicing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// HTTPClient submits invoices to an HTTP upstream. Submission is one-shot:
// an invoice is never retried because a timeout may still have landed on the
// other side. The breaker only decides whether to attempt at all.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Breaker *resilience.Breaker
	Logger  zerolog.Logger
}

// Submit implements Client.
func (c *HTTPClient) Submit(ctx context.Context, inv Invoice) (Receipt, error) {
	if c.Breaker != nil && !c.Breaker.Allow(ctx) {
		return Receipt{}, resilience.ErrOpenCircuit
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode invoice: %w", err)
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/invoices"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build invoice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.report(ctx, false, start)
		return Receipt{}, fmt.Errorf("submit invoice: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.report(ctx, resp.StatusCode < 500, start)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.Logger.Warn().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("invoice_rejected")
		return Receipt{}, &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		c.report(ctx, false, start)
		return Receipt{}, fmt.Errorf("decode invoice receipt: %w", err)
	}
	c.report(ctx, true, start)
	return receipt, nil
}

func (c *HTTPClient) report(ctx context.Context, success bool, start time.Time) {
	if c.Breaker != nil {
		c.Breaker.Report(ctx, success)
	}
	if obs.InvoiceRequestDuration != nil {
		result := "ok"
		if !success {
			result = "error"
		}
		obs.InvoiceRequestDuration.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}
