// Package ledger wraps the external settlement network. The network is
// opaque: we sign and submit a transfer, then wait seconds for confirmation.
// Callers distinguish two failure kinds only: transient (retry) and
// permanent rejection (never retry).
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	pkgerrors "github.com/honeynil/tappay/pkg/errors"
)

type TransferRequest struct {
	FromAccount string `json:"from_account"`
	ToAddress   string `json:"to_address"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

type Confirmation struct {
	TxHash     string `json:"tx_hash"`
	NetworkFee int64  `json:"network_fee"`
}

type Client interface {
	GetBalance(ctx context.Context, account string) (int64, error)
	SubmitTransfer(ctx context.Context, req TransferRequest) (string, error)
	WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) GetBalance(ctx context.Context, account string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+account+"/balance", nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *HTTPClient) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/transfers", req, &out); err != nil {
		return "", err
	}
	slog.Info("ledger transfer submitted", "tx_hash", out.TxHash, "amount", req.Amount, "reference", req.Reference)
	return out.TxHash, nil
}

func (c *HTTPClient) WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error) {
	var out Confirmation
	if err := c.do(ctx, http.MethodGet, "/transfers/"+txHash+"/confirmation", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		// Application-level rejection. Retrying the same debit cannot succeed.
		return pkgerrors.ErrInsufficientLedgerFunds
	default:
		raw, _ := io.ReadAll(resp.Body)
		slog.Error("ledger request failed", "method", method, "path", path, "status", resp.StatusCode, "body", string(raw))
		return fmt.Errorf("%w: status %d", pkgerrors.ErrLedgerUnavailable, resp.StatusCode)
	}
}
