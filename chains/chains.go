package chains

import (
	"fmt"
	"regexp"
	"strings"
)

// Chain identifies a supported settlement network.
type Chain string

// Supported chains. Values match the wire representation used by the signer
// API and the database enum column.
const (
	TRC20 Chain = "TRC20"
	BEP20 Chain = "BEP20"
)

// Token identifies a supported token. USDT is the only asset handled today.
type Token string

// TokenUSDT is the sole supported token.
const TokenUSDT Token = "USDT"

var (
	tronAddressRE = regexp.MustCompile(`^T[A-Za-z0-9]{33}$`)
	bscAddressRE  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// All returns the supported chains in a stable order.
func All() []Chain {
	return []Chain{TRC20, BEP20}
}

// Parse validates a wire value against the supported chain set.
func Parse(raw string) (Chain, error) {
	switch Chain(strings.ToUpper(strings.TrimSpace(raw))) {
	case TRC20:
		return TRC20, nil
	case BEP20:
		return BEP20, nil
	default:
		return "", fmt.Errorf("chains: unsupported chain %q", raw)
	}
}

// ValidateAddress reports whether the address is syntactically valid for the
// chain.
func ValidateAddress(chain Chain, address string) bool {
	switch chain {
	case TRC20:
		return tronAddressRE.MatchString(address)
	case BEP20:
		return bscAddressRE.MatchString(address)
	default:
		return false
	}
}

// DefaultConfirmations is the confirmation depth a deposit must reach before
// it is accepted.
func DefaultConfirmations(chain Chain) int {
	switch chain {
	case TRC20:
		return 20
	case BEP20:
		return 12
	default:
		return 0
	}
}

// slug is the short name used for coordinator key-value keys.
func slug(chain Chain) string {
	switch chain {
	case TRC20:
		return "tron"
	case BEP20:
		return "bsc"
	default:
		return strings.ToLower(string(chain))
	}
}

// CursorKey is the key-value key holding the last scanned block for the chain.
func CursorKey(chain Chain) string {
	return slug(chain) + ":last_block"
}

// RescanKey is the key-value key holding the unix time of the last deep rescan.
func RescanKey(chain Chain) string {
	return slug(chain) + ":last_rescan"
}
