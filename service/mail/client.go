package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Confirmation carries the fields rendered into the order confirmation email.
type Confirmation struct {
	BuyerName    string
	BuyerEmail   string
	BuyerAddress string
	ItemName     string
	Amount       string // display units
	TxID         string
	Timestamp    time.Time
}

// Client sends templated emails through a hosted email service.
// The service renders a fixed template from the key/value parameters
// posted with each send.
type Client struct {
	baseURL    string
	serviceID  string
	templateID string
	publicKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new email client.
func NewClient(baseURL, serviceID, templateID, publicKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		serviceID:  serviceID,
		templateID: templateID,
		publicKey:  publicKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

type sendRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	TemplateParams map[string]string `json:"template_params"`
}

// SendConfirmation sends an order confirmation email. A failure here must
// never undo the purchase; callers degrade the checkout status instead.
func (c *Client) SendConfirmation(ctx context.Context, conf Confirmation) error {
	req := sendRequest{
		ServiceID:  c.serviceID,
		TemplateID: c.templateID,
		UserID:     c.publicKey,
		TemplateParams: map[string]string{
			"user_name":      conf.BuyerName,
			"user_email":     conf.BuyerEmail,
			"user_address":   conf.BuyerAddress,
			"item_name":      conf.ItemName,
			"amount":         conf.Amount,
			"shipping":       "Free",
			"transaction_id": conf.TxID,
			"timestamp":      conf.Timestamp.UTC().Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1.0/email/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("email service returned %d: %s", resp.StatusCode, string(text))
	}

	c.logger.Debug("confirmation email sent",
		"to", conf.BuyerEmail,
		"tx_id", conf.TxID)
	return nil
}
