package chainrpc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TronBackend implements Backend against a Tron full node HTTP API.
type TronBackend struct {
	baseURL       string
	apiKey        string
	contract      string
	tokenDecimals int32
	client        *http.Client
}

// NewTron builds a backend for the node at baseURL. contract is the token's
// base58 address; apiKey may be empty for self-hosted nodes.
func NewTron(baseURL, apiKey, contract string, tokenDecimals int32) (*TronBackend, error) {
	if _, err := tronHexAddress(contract); err != nil {
		return nil, fmt.Errorf("chainrpc: bad contract address %q: %w", contract, err)
	}
	return &TronBackend{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		contract:      contract,
		tokenDecimals: tokenDecimals,
		client:        &http.Client{Timeout: RequestTimeout},
	}, nil
}

func (b *TronBackend) BlockNumber(ctx context.Context) (uint64, error) {
	var resp struct {
		BlockHeader struct {
			RawData struct {
				Number uint64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := b.post(ctx, "/wallet/getnowblock", nil, &resp); err != nil {
		return 0, err
	}
	if resp.BlockHeader.RawData.Number == 0 {
		return 0, fmt.Errorf("chainrpc: empty head block response")
	}
	return resp.BlockHeader.RawData.Number, nil
}

func (b *TronBackend) TokenTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]TransferEvent, error) {
	query := url.Values{}
	query.Set("event_name", "Transfer")
	query.Set("min_block_number", strconv.FormatUint(fromBlock, 10))
	query.Set("max_block_number", strconv.FormatUint(toBlock, 10))
	query.Set("limit", "200")

	var events []TransferEvent
	next := "/v1/contracts/" + b.contract + "/events?" + query.Encode()
	for next != "" {
		var resp struct {
			Data []struct {
				TransactionID string `json:"transaction_id"`
				BlockNumber   uint64 `json:"block_number"`
				EventIndex    uint   `json:"event_index"`
				Result        struct {
					From  string `json:"from"`
					To    string `json:"to"`
					Value string `json:"value"`
				} `json:"result"`
			} `json:"data"`
			Meta struct {
				Links struct {
					Next string `json:"next"`
				} `json:"links"`
			} `json:"meta"`
		}
		if err := b.get(ctx, next, &resp); err != nil {
			return nil, err
		}
		for _, ev := range resp.Data {
			amount, ok := new(big.Int).SetString(ev.Result.Value, 10)
			if !ok {
				continue
			}
			from, err := tronBase58Address(ev.Result.From)
			if err != nil {
				continue
			}
			to, err := tronBase58Address(ev.Result.To)
			if err != nil {
				continue
			}
			events = append(events, TransferEvent{
				TxHash:      ev.TransactionID,
				Block:       ev.BlockNumber,
				LogIndex:    ev.EventIndex,
				From:        from,
				To:          to,
				AmountMicro: toMicro(amount, b.tokenDecimals),
			})
		}
		next = ""
		if link := resp.Meta.Links.Next; link != "" {
			if u, err := url.Parse(link); err == nil {
				next = u.Path + "?" + u.RawQuery
			}
		}
	}
	return events, nil
}

func (b *TronBackend) TransferToken(ctx context.Context, key *ecdsa.PrivateKey, to string, amountMicro int64) (string, error) {
	ownerHex := "41" + hex.EncodeToString(ethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	contractHex, err := tronHexAddress(b.contract)
	if err != nil {
		return "", err
	}
	toHex, err := tronHexAddress(to)
	if err != nil {
		return "", fmt.Errorf("chainrpc: bad recipient %q: %w", to, err)
	}
	amount := fromMicro(amountMicro, b.tokenDecimals)

	// parameter is the ABI encoding of (address,uint256) with the 20-byte
	// address body.
	param := hex.EncodeToString(common.LeftPadBytes(common.FromHex(toHex[2:]), 32)) +
		hex.EncodeToString(common.LeftPadBytes(amount.Bytes(), 32))

	trigger := map[string]any{
		"owner_address":     ownerHex,
		"contract_address":  contractHex,
		"function_selector": "transfer(address,uint256)",
		"parameter":         param,
		"fee_limit":         40000000,
		"call_value":        0,
	}
	var created struct {
		Result struct {
			Result  bool   `json:"result"`
			Message string `json:"message"`
		} `json:"result"`
		Transaction json.RawMessage `json:"transaction"`
	}
	if err := b.post(ctx, "/wallet/triggersmartcontract", trigger, &created); err != nil {
		return "", err
	}
	if !created.Result.Result {
		return "", fmt.Errorf("chainrpc: trigger contract: %s", created.Result.Message)
	}

	var tx map[string]any
	if err := json.Unmarshal(created.Transaction, &tx); err != nil {
		return "", fmt.Errorf("chainrpc: decode transaction: %w", err)
	}
	rawHex, _ := tx["raw_data_hex"].(string)
	txID, _ := tx["txID"].(string)
	if rawHex == "" || txID == "" {
		return "", fmt.Errorf("chainrpc: incomplete transaction payload")
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", fmt.Errorf("chainrpc: decode raw tx: %w", err)
	}
	digest := sha256.Sum256(raw)
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return "", fmt.Errorf("chainrpc: sign tx: %w", err)
	}
	tx["signature"] = []string{hex.EncodeToString(sig)}

	var broadcast struct {
		Result  bool   `json:"result"`
		Message string `json:"message"`
	}
	if err := b.post(ctx, "/wallet/broadcasttransaction", tx, &broadcast); err != nil {
		return "", err
	}
	if !broadcast.Result {
		return "", fmt.Errorf("chainrpc: broadcast: %s", broadcast.Message)
	}
	return txID, nil
}

func (b *TronBackend) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("chainrpc: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("chainrpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

func (b *TronBackend) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("chainrpc: build request: %w", err)
	}
	return b.do(req, out)
}

func (b *TronBackend) do(req *http.Request, out any) error {
	if b.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", b.apiKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("chainrpc: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chainrpc: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("chainrpc: decode response: %w", err)
	}
	return nil
}

// tronHexAddress converts a base58check address to the node's 41-prefixed hex
// form.
func tronHexAddress(address string) (string, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return "", err
	}
	if version != 0x41 || len(payload) != 20 {
		return "", fmt.Errorf("not a tron address")
	}
	return "41" + hex.EncodeToString(payload), nil
}

// tronBase58Address normalizes the event API's address forms to base58check.
// Nodes return either base58 directly, a 21-byte 41-prefixed hex string, or a
// bare 20-byte hex body.
func tronBase58Address(raw string) (string, error) {
	if strings.HasPrefix(raw, "T") {
		if _, _, err := base58.CheckDecode(raw); err == nil {
			return raw, nil
		}
	}
	body := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	buf, err := hex.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("chainrpc: decode address %q: %w", raw, err)
	}
	switch len(buf) {
	case 21:
		if buf[0] != 0x41 {
			return "", fmt.Errorf("chainrpc: bad address prefix in %q", raw)
		}
		buf = buf[1:]
	case 20:
	default:
		return "", fmt.Errorf("chainrpc: bad address length in %q", raw)
	}
	return base58.CheckEncode(buf, 0x41), nil
}
