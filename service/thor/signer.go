package thor

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

// Signer produces a raw signed transaction for a transfer intent.
// Wallet key management lives behind this interface; the service never
// sees key material.
type Signer interface {
	// SignTransfer signs the transfer and returns the raw transaction as a
	// 0x-prefixed hex string ready for node submission.
	SignTransfer(ctx context.Context, tx *TransferTx) (string, error)
}

// SubmissionError is returned when a transfer cannot be submitted: the
// signer rejected it, the node is unreachable, or the amount encoding
// overflowed. Reason is safe to show to a user.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// RemoteSigner delegates signing to an external signing service over HTTP.
// The service receives the transfer intent as JSON and responds with
// {"raw": "0x..."}.
type RemoteSigner struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteSigner creates a signer client for the given signing service URL.
func NewRemoteSigner(url string, httpClient *http.Client, logger *slog.Logger) *RemoteSigner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &RemoteSigner{
		url:        url,
		httpClient: httpClient,
		logger:     logger,
	}
}

// SignTransfer posts the transfer intent to the signing service.
func (s *RemoteSigner) SignTransfer(ctx context.Context, tx *TransferTx) (string, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url+"/sign/transfer", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error != "" {
			return "", fmt.Errorf("signer rejected transfer: %s", errResp.Error)
		}
		return "", fmt.Errorf("signer returned status %d", resp.StatusCode)
	}

	var result struct {
		Raw string `json:"raw"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode signer response: %w", err)
	}
	if result.Raw == "" {
		return "", fmt.Errorf("signer returned empty raw transaction")
	}

	s.logger.Debug("transfer signed", "to", tx.To.Hex(), "nonce", tx.Nonce)
	return result.Raw, nil
}
