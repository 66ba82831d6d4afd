package thor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/b3trbeach/storefront/service/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Transaction parameters used for all storefront transfers. A plain token
// transfer comfortably fits this gas allowance on either network.
const (
	transferGas          = 150000
	transferGasPriceCoef = 128
	transferExpiration   = 32 // blocks
)

// Client wraps the chain node's REST API with the three operations the
// storefront needs: balance lookups, receipt lookups and transfer submission.
// All node result shapes are normalized at this boundary; callers only ever
// see big.Int amounts and booleans.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      common.Address
	decimals   int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Delay before the single signer retry. Shortened in tests.
	signRetryDelay time.Duration
}

// NewClient creates a chain data client for the given node URL and token
// contract. If m is nil, no metrics will be recorded.
func NewClient(nodeURL string, token common.Address, decimals int, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:        strings.TrimRight(nodeURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		token:          token,
		decimals:       decimals,
		logger:         logger,
		metrics:        m,
		signRetryDelay: 1500 * time.Millisecond,
	}
}

// Decimals returns the token's decimals exponent.
func (c *Client) Decimals() int { return c.decimals }

// Token returns the token contract address.
func (c *Client) Token() common.Address { return c.token }

// GetBalance fetches the token balance for an address via the node's
// contract-call endpoint. Returns (nil, nil) when the node answers but the
// account is unknown; callers treat both nil and error as "balance unknown",
// never as zero.
func (c *Client) GetBalance(ctx context.Context, addr common.Address) (*BalanceSnapshot, error) {
	reqBody := map[string]any{
		"clauses": []map[string]any{
			{
				"to":    c.token.Hex(),
				"value": "0x0",
				"data":  hexutil.Encode(encodeBalanceOfCall(addr)),
			},
		},
	}

	start := time.Now()
	var outputs []callResponse
	err := c.postJSON(ctx, "/accounts/*", reqBody, &outputs)
	c.record("CallBalanceOf", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "balance call failed", "address", addr.Hex(), "error", err)
		return nil, err
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("balance call returned no outputs")
	}
	out := outputs[0]
	if out.Reverted || out.VMError != "" {
		return nil, fmt.Errorf("balance call reverted: %s", out.VMError)
	}

	raw, err := decodeUint256(out.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balance: %w", err)
	}
	if raw == nil {
		// Node answered but has nothing for this account.
		return nil, nil
	}

	snapshot := &BalanceSnapshot{
		Address:   addr,
		Raw:       raw,
		Display:   FormatUnits(raw, c.decimals),
		FetchedAt: time.Now().UTC(),
	}

	c.logger.DebugContext(ctx, "fetched token balance",
		"address", addr.Hex(),
		"balance", snapshot.Display,
	)
	return snapshot, nil
}

// GetAccountEnergy fetches the secondary gas-paying balance for an address.
// Same contract as GetBalance: nil means unknown, not zero.
func (c *Client) GetAccountEnergy(ctx context.Context, addr common.Address) (*BalanceSnapshot, error) {
	start := time.Now()
	var account accountResponse
	err := c.getJSON(ctx, "/accounts/"+strings.ToLower(addr.Hex()), &account)
	c.record("GetAccount", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "account fetch failed", "address", addr.Hex(), "error", err)
		return nil, err
	}

	if account.Energy == nil {
		return nil, nil
	}

	raw := (*big.Int)(account.Energy)
	return &BalanceSnapshot{
		Address:   addr,
		Raw:       raw,
		Display:   FormatUnits(raw, 18), // energy is always 18 decimals
		FetchedAt: time.Now().UTC(),
	}, nil
}

// GetReceipt fetches the receipt for a transaction id. Returns (nil, nil)
// while the transaction is not yet mined. Once mined, repeated calls return
// the same Reverted value; the node guarantees receipts do not flap.
func (c *Client) GetReceipt(ctx context.Context, txID string) (*Receipt, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/transactions/"+txID+"/receipt", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	c.record("GetReceipt", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "receipt fetch failed", "tx_id", txID, "error", err)
		return nil, fmt.Errorf("receipt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt response: %w", err)
	}

	// The node returns a JSON null body while the transaction is unmined.
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var rr receiptResponse
	if err := json.Unmarshal(trimmed, &rr); err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}

	receipt := &Receipt{
		Reverted:    rr.Reverted,
		GasUsed:     rr.GasUsed,
		GasPayer:    rr.GasPayer,
		BlockID:     rr.Meta.BlockID,
		BlockNumber: rr.Meta.BlockNumber,
	}

	c.logger.DebugContext(ctx, "fetched receipt",
		"tx_id", txID,
		"reverted", receipt.Reverted,
		"block", receipt.BlockNumber,
	)
	return receipt, nil
}

// SubmitTransfer builds a token transfer to the given address, has the
// signer sign it, and posts the raw transaction to the node. A transient
// signer failure is retried exactly once after a short delay; all terminal
// failures are returned as *SubmissionError.
func (c *Client) SubmitTransfer(ctx context.Context, signer Signer, to common.Address, amount *big.Int) (string, error) {
	data, err := encodeTransferCall(to, amount)
	if err != nil {
		return "", &SubmissionError{Reason: "invalid transfer amount", Err: err}
	}

	tx := &TransferTx{
		Token:        c.token,
		To:           to,
		Amount:       (*hexutil.Big)(amount),
		Data:         data,
		Gas:          transferGas,
		GasPriceCoef: transferGasPriceCoef,
		Expiration:   transferExpiration,
		Nonce:        rand.Uint64(),
	}

	raw, err := signer.SignTransfer(ctx, tx)
	if err != nil {
		// Signing services occasionally fail a first attempt transiently;
		// retry once after a short delay before giving up.
		c.logger.WarnContext(ctx, "signing failed, retrying once",
			"to", to.Hex(),
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordNodeRetry("SignTransfer", "transient_signer_failure")
		}

		select {
		case <-time.After(c.signRetryDelay):
		case <-ctx.Done():
			return "", &SubmissionError{Reason: "submission cancelled", Err: ctx.Err()}
		}

		raw, err = signer.SignTransfer(ctx, tx)
		if err != nil {
			return "", &SubmissionError{Reason: submissionReason(err), Err: err}
		}
	}

	start := time.Now()
	var result struct {
		ID string `json:"id"`
	}
	err = c.postJSON(ctx, "/transactions", map[string]string{"raw": raw}, &result)
	c.record("SubmitTransaction", start, err)
	if err != nil {
		return "", &SubmissionError{Reason: "unable to reach chain node", Err: err}
	}
	if result.ID == "" {
		return "", &SubmissionError{Reason: "node returned no transaction id"}
	}

	c.logger.InfoContext(ctx, "transfer submitted",
		"tx_id", result.ID,
		"to", to.Hex(),
		"amount", FormatUnits(amount, c.decimals),
	)
	return result.ID, nil
}

// submissionReason maps signer errors to human-readable status strings.
func submissionReason(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "cancelled") || strings.Contains(msg, "rejected"):
		return "transaction rejected by user"
	case strings.Contains(msg, "connection"):
		return "wallet connection issue"
	case strings.Contains(msg, "node"):
		return "unable to connect to chain node"
	default:
		return "transaction signing failed"
	}
}

// getJSON performs a GET against the node and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON performs a POST against the node and decodes the JSON response.
func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// record emits node call metrics.
func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordNodeCall(method, status, time.Since(start).Seconds())
}
