// Package keys manages the signer's custody wallet: an encrypted file of
// secp256k1 private keys and the address forms they settle to on each chain.
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"trustora/chains"
)

const tronAddressPrefix = 0x41

// ErrUnknownAddress reports a lookup for an address the pool does not hold.
var ErrUnknownAddress = errors.New("keys: unknown address")

// Entry pairs a private key with its derived addresses.
type Entry struct {
	Key         *ecdsa.PrivateKey
	TronAddress string
	BSCAddress  string
}

// Address returns the entry's address on the given chain.
func (e Entry) Address(chain chains.Chain) string {
	if chain == chains.TRC20 {
		return e.TronAddress
	}
	return e.BSCAddress
}

// Pool holds the decrypted custody keys in file order.
type Pool struct {
	entries   []Entry
	byAddress map[string]*ecdsa.PrivateKey
}

// NewPool derives addresses for each hex-encoded private key and indexes them.
func NewPool(hexKeys []string) (*Pool, error) {
	p := &Pool{byAddress: make(map[string]*ecdsa.PrivateKey)}
	for i, raw := range hexKeys {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("keys: decode key %d: %w", i, err)
		}
		entry := Entry{
			Key:         key,
			TronAddress: TronAddress(key),
			BSCAddress:  BSCAddress(key),
		}
		p.entries = append(p.entries, entry)
		p.byAddress[entry.TronAddress] = key
		p.byAddress[entry.BSCAddress] = key
	}
	return p, nil
}

// Addresses returns the pool's addresses for the chain in file order.
func (p *Pool) Addresses(chain chains.Chain) []string {
	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Address(chain))
	}
	return out
}

// Key returns the private key controlling the address on either chain.
func (p *Pool) Key(address string) (*ecdsa.PrivateKey, error) {
	key, ok := p.byAddress[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	return key, nil
}

// Len reports the number of keys in the pool.
func (p *Pool) Len() int {
	return len(p.entries)
}

// BSCAddress derives the 0x-prefixed EVM address for the key.
func BSCAddress(key *ecdsa.PrivateKey) string {
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
}

// TronAddress derives the base58check address for the key. Tron shares the
// EVM address body but prefixes version byte 0x41 before encoding.
func TronAddress(key *ecdsa.PrivateKey) string {
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return base58.CheckEncode(addr.Bytes(), tronAddressPrefix)
}

// ParseKeyList decodes the plaintext key file: a JSON array of hex private
// keys.
func ParseKeyList(data []byte) ([]string, error) {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("keys: parse key list: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("keys: key list is empty")
	}
	for i, raw := range list {
		body := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
		if _, err := hex.DecodeString(body); err != nil || len(body) != 64 {
			return nil, fmt.Errorf("keys: key %d is not 32-byte hex", i)
		}
	}
	return list, nil
}
