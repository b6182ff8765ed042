// Package gateway is the HTTP client for the club's payment provider. The
// engine creates an invoice here when a hold is placed; the provider calls
// back into the API when the invoice settles.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"pavilion/internal/config"
	"pavilion/internal/models"

	"github.com/rs/zerolog"
)

// Error carries the provider's HTTP status and response body for failed calls.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment gateway returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL     string
	apiKey      string
	consumerRef string
	httpClient  *http.Client
	logger      zerolog.Logger
}

func NewClient(cfg config.GatewayConfig, logger *zerolog.Logger) *Client {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "gateway").Logger()
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		consumerRef: cfg.ConsumerRef,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout()},
		logger:      log,
	}
}

// CreateInvoice registers a pending payment with the provider and returns
// its invoice. The invoice id is the correlation key for the callback.
func (c *Client) CreateInvoice(ctx context.Context, req *models.InvoiceRequest) (*models.Invoice, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build invoice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("X-Consumer-Ref", c.consumerRef)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoice request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error().Int("status", resp.StatusCode).Str("reference", req.Reference).
			Msg("invoice creation rejected")
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var invoice models.Invoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, fmt.Errorf("failed to decode invoice response: %w", err)
	}

	c.logger.Info().Str("invoice_id", invoice.ID).Str("reference", invoice.Reference).
		Int64("amount", invoice.Amount).Msg("invoice created")
	return &invoice, nil
}
