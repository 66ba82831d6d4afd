// Package client provides a typed HTTP client for the storefront service.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Product is an item in the storefront catalog.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceUSD    float64   `json:"price_usd"`
	PriceToken  string    `json:"price_token"`
	SoldOut     bool      `json:"sold_out"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Purchase is a confirmed checkout record.
type Purchase struct {
	ID           string    `json:"id"`
	Item         string    `json:"item"`
	Amount       string    `json:"amount"`
	PayerAddress string    `json:"payer_address"`
	TxID         string    `json:"tx_id"`
	PurchasedAt  time.Time `json:"purchased_at"`
	BuyerName    string    `json:"buyer_name"`
	BuyerEmail   string    `json:"buyer_email"`
	BuyerAddress string    `json:"buyer_address"`
	CreatedAt    time.Time `json:"created_at"`
}

// PurchaseEvent is a purchase notification streamed over SSE.
type PurchaseEvent struct {
	PurchaseID   string    `json:"purchase_id"`
	TxID         string    `json:"tx_id"`
	PayerAddress string    `json:"payer_address"`
	Item         string    `json:"item"`
	Amount       string    `json:"amount"`
	PurchasedAt  time.Time `json:"purchased_at"`
	PublishedAt  time.Time `json:"published_at"`
}

// Buyer is the contact information collected at checkout.
type Buyer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// PendingTransaction is the server's record of a submitted payment.
type PendingTransaction struct {
	TxID        string    `json:"tx_id"`
	Payer       string    `json:"payer"`
	Item        string    `json:"item"`
	Amount      string    `json:"amount"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// CheckoutState reports the active checkout and its user-visible status.
type CheckoutState struct {
	Active  *PendingTransaction `json:"active,omitempty"`
	Message string              `json:"message,omitempty"`
	Warning string              `json:"warning,omitempty"`
}

// Registration is an attendee signup for a storefront event.
type Registration struct {
	ID            string    `json:"id"`
	EventName     string    `json:"event_name"`
	AttendeeName  string    `json:"attendee_name"`
	AttendeeEmail string    `json:"attendee_email"`
	CreatedAt     time.Time `json:"created_at"`
}

// Balance reports an account's token and energy balances. Known is false
// when the node has never seen the account; that is not a zero balance.
type Balance struct {
	Address string `json:"address"`
	Token   string `json:"token_balance,omitempty"`
	Energy  string `json:"energy_balance,omitempty"`
	Known   bool   `json:"known"`
}

// Client is the HTTP client for the storefront service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new storefront service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// ProductParams contains the fields for creating or updating a product.
type ProductParams struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	PriceUSD    float64 `json:"price_usd"`
	PriceToken  string  `json:"price_token"`
	SoldOut     bool    `json:"sold_out"`
}

// CreateProduct adds a product to the catalog.
func (c *Client) CreateProduct(ctx context.Context, params ProductParams) (*Product, error) {
	var product Product
	if err := c.doJSON(ctx, "POST", "/api/v1/products", params, http.StatusCreated, &product); err != nil {
		return nil, err
	}
	c.logger.Debug("product created", "id", product.ID, "name", product.Name)
	return &product, nil
}

// ListProducts retrieves the catalog.
func (c *Client) ListProducts(ctx context.Context) ([]*Product, error) {
	var products []*Product
	if err := c.doJSON(ctx, "GET", "/api/v1/products", nil, http.StatusOK, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct retrieves one product.
func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	var product Product
	path := "/api/v1/products/" + url.PathEscape(id)
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct replaces a product's fields.
func (c *Client) UpdateProduct(ctx context.Context, id string, params ProductParams) (*Product, error) {
	var product Product
	path := "/api/v1/products/" + url.PathEscape(id)
	if err := c.doJSON(ctx, "PUT", path, params, http.StatusOK, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// DeleteProduct removes a product from the catalog.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	path := "/api/v1/products/" + url.PathEscape(id)
	return c.doJSON(ctx, "DELETE", path, nil, http.StatusNoContent, nil)
}

// SubmitCheckout submits a payment for a product and begins tracking it.
func (c *Client) SubmitCheckout(ctx context.Context, productID, payerAddress string, buyer Buyer) (*PendingTransaction, error) {
	reqBody := map[string]any{
		"product_id":    productID,
		"payer_address": payerAddress,
		"buyer":         buyer,
	}
	var pending PendingTransaction
	if err := c.doJSON(ctx, "POST", "/api/v1/checkout", reqBody, http.StatusAccepted, &pending); err != nil {
		return nil, err
	}
	c.logger.Debug("checkout submitted", "tx_id", pending.TxID)
	return &pending, nil
}

// CheckoutStatus retrieves the state of the active checkout.
func (c *Client) CheckoutStatus(ctx context.Context) (*CheckoutState, error) {
	var state CheckoutState
	if err := c.doJSON(ctx, "GET", "/api/v1/checkout", nil, http.StatusOK, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// AbandonCheckout stops tracking the active transaction.
func (c *Client) AbandonCheckout(ctx context.Context) error {
	return c.doJSON(ctx, "DELETE", "/api/v1/checkout", nil, http.StatusNoContent, nil)
}

// ListPurchases retrieves purchase history, newest first.
func (c *Client) ListPurchases(ctx context.Context, limit, offset int) ([]*Purchase, error) {
	path := fmt.Sprintf("/api/v1/purchases?limit=%d&offset=%d", limit, offset)
	var purchases []*Purchase
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &purchases); err != nil {
		return nil, err
	}
	return purchases, nil
}

// GetPurchase retrieves a purchase by its transaction id.
func (c *Client) GetPurchase(ctx context.Context, txID string) (*Purchase, error) {
	var purchase Purchase
	path := "/api/v1/purchases/" + url.PathEscape(txID)
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &purchase); err != nil {
		return nil, err
	}
	return &purchase, nil
}

// CreateRegistration records an event signup.
func (c *Client) CreateRegistration(ctx context.Context, eventName, attendeeName, attendeeEmail string) (*Registration, error) {
	reqBody := map[string]string{
		"event_name":     eventName,
		"attendee_name":  attendeeName,
		"attendee_email": attendeeEmail,
	}
	var reg Registration
	if err := c.doJSON(ctx, "POST", "/api/v1/registrations", reqBody, http.StatusCreated, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// ListRegistrations retrieves signups for an event.
func (c *Client) ListRegistrations(ctx context.Context, eventName string) ([]*Registration, error) {
	path := "/api/v1/registrations?event=" + url.QueryEscape(eventName)
	var regs []*Registration
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &regs); err != nil {
		return nil, err
	}
	return regs, nil
}

// GetBalance retrieves an account's balances.
func (c *Client) GetBalance(ctx context.Context, address string) (*Balance, error) {
	var balance Balance
	path := "/api/v1/balance/" + url.PathEscape(address)
	if err := c.doJSON(ctx, "GET", path, nil, http.StatusOK, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// AwaitPurchase connects to the purchase SSE stream and blocks until a
// purchase matching the matcher arrives, or the context ends. An empty
// address streams purchases from all payers.
func (c *Client) AwaitPurchase(ctx context.Context, address string, matcher func(*PurchaseEvent) bool) (*PurchaseEvent, error) {
	path := "/api/v1/stream/purchases"
	if address != "" {
		path += "/" + url.PathEscape(address)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The default client has a 30s timeout; streaming needs none.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var currentEvent, currentData string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			// Blank line terminates one SSE message.
			if currentEvent == "purchase" && currentData != "" {
				var event PurchaseEvent
				if err := json.Unmarshal([]byte(currentData), &event); err != nil {
					c.logger.Warn("failed to decode purchase event", "error", err)
				} else if matcher == nil || matcher(&event) {
					return &event, nil
				}
			}
			currentEvent = ""
			currentData = ""
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("stream ended: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("stream closed before a matching purchase arrived")
}

// doJSON performs a request with an optional JSON body and decodes the
// response when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
