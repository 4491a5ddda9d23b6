package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"trustora/auth"
	"trustora/chains"
)

// Signer is the coordinator's view of the signing service.
type Signer interface {
	RequestAddress(ctx context.Context, chain chains.Chain) (string, error)
	SendPayout(ctx context.Context, escrowID uuid.UUID, chain chains.Chain, payoutAddress, amount string) (PayoutResult, error)
}

// PayoutResult is the signer's answer to a payout request.
type PayoutResult struct {
	SellerTxHash string `json:"seller_tx_hash"`
	FeeTxHash    string `json:"fee_tx_hash"`
}

// SignerClient talks to the signer over HTTP with the shared-secret envelope.
type SignerClient struct {
	baseURL string
	secret  string
	client  *http.Client
	nowFn   func() time.Time
}

// NewSignerClient builds a client for the signer at baseURL.
func NewSignerClient(baseURL, secret string) *SignerClient {
	return &SignerClient{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		nowFn:   time.Now,
	}
}

func (c *SignerClient) RequestAddress(ctx context.Context, chain chains.Chain) (string, error) {
	nonce, err := auth.GenerateNonce()
	if err != nil {
		return "", err
	}
	ts := c.nowFn().Unix()
	payload := map[string]any{
		"chain":     string(chain),
		"timestamp": ts,
		"nonce":     nonce,
		"signature": auth.Sign(c.secret, auth.AddressMessage(string(chain), ts, nonce)),
	}
	var resp struct {
		Address string `json:"address"`
		Error   string `json:"error"`
	}
	if err := c.post(ctx, "/address", payload, &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("coordinator: signer returned no address: %s", resp.Error)
	}
	return resp.Address, nil
}

func (c *SignerClient) SendPayout(ctx context.Context, escrowID uuid.UUID, chain chains.Chain, payoutAddress, amount string) (PayoutResult, error) {
	nonce, err := auth.GenerateNonce()
	if err != nil {
		return PayoutResult{}, err
	}
	ts := c.nowFn().Unix()
	payload := map[string]any{
		"escrow_id":      escrowID.String(),
		"chain":          string(chain),
		"payout_address": payoutAddress,
		"amount":         amount,
		"timestamp":      ts,
		"nonce":          nonce,
		"signature": auth.Sign(c.secret, auth.PayoutMessage(
			escrowID.String(), string(chain), payoutAddress, amount, ts, nonce)),
	}
	var resp struct {
		PayoutResult
		Error string `json:"error"`
	}
	if err := c.post(ctx, "/payout", payload, &resp); err != nil {
		return PayoutResult{}, err
	}
	if resp.SellerTxHash == "" {
		return PayoutResult{}, fmt.Errorf("coordinator: signer rejected payout: %s", resp.Error)
	}
	return resp.PayoutResult, nil
}

func (c *SignerClient) post(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("coordinator: encode signer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("coordinator: build signer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator: signer %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coordinator: decode signer response: %w", err)
	}
	if resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("coordinator: signer %s: status %d", path, resp.StatusCode)
	}
	return nil
}
