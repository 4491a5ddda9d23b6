package keys

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcutil/base58"

	"trustora/chains"
)

const testKeyHex = "0000000000000000000000000000000000000000000000000000000000000001"

func TestAddressDerivation(t *testing.T) {
	pool, err := NewPool([]string{testKeyHex})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	entry := pool.entries[0]
	if entry.BSCAddress != "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf" {
		t.Fatalf("unexpected bsc address %s", entry.BSCAddress)
	}
	payload, version, err := base58.CheckDecode(entry.TronAddress)
	if err != nil {
		t.Fatalf("tron address should base58check decode: %v", err)
	}
	if version != 0x41 {
		t.Fatalf("tron version byte = %#x, want 0x41", version)
	}
	if len(payload) != 20 {
		t.Fatalf("tron payload length = %d, want 20", len(payload))
	}
	if !chains.ValidateAddress(chains.TRC20, entry.TronAddress) {
		t.Fatalf("tron address fails syntax check: %s", entry.TronAddress)
	}
}

func TestPoolLookup(t *testing.T) {
	pool, err := NewPool([]string{testKeyHex})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	for _, chain := range chains.All() {
		addrs := pool.Addresses(chain)
		if len(addrs) != 1 {
			t.Fatalf("expected one address, got %d", len(addrs))
		}
		if _, err := pool.Key(addrs[0]); err != nil {
			t.Fatalf("lookup %s: %v", addrs[0], err)
		}
	}
	if _, err := pool.Key("0x0000000000000000000000000000000000000000"); !errors.Is(err, ErrUnknownAddress) {
		t.Fatalf("unknown address should fail, got %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte(`["` + testKeyHex + `"]`)
	blob, err := Encrypt("passphrase", plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := Decrypt("passphrase", blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch")
	}
	if _, err := Decrypt("wrong", blob); err == nil {
		t.Fatalf("wrong passphrase must fail")
	}
	blob[len(blob)-1] ^= 0xff
	if _, err := Decrypt("passphrase", blob); err == nil {
		t.Fatalf("tampered blob must fail")
	}
}

func TestLoadPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.enc")
	blob, err := Encrypt("pw", []byte(`["`+testKeyHex+`"]`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	pool, err := LoadPool(path, "pw")
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	if pool.Len() != 1 {
		t.Fatalf("expected one key, got %d", pool.Len())
	}
}

func TestParseKeyListRejectsBadInput(t *testing.T) {
	if _, err := ParseKeyList([]byte(`[]`)); err == nil {
		t.Fatalf("empty list must fail")
	}
	if _, err := ParseKeyList([]byte(`["zz"]`)); err == nil {
		t.Fatalf("non-hex key must fail")
	}
	if _, err := ParseKeyList([]byte(`not json`)); err == nil {
		t.Fatalf("malformed json must fail")
	}
}
