package escrow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by every monetary
// value. USDT uses six decimal places on both supported chains.
const AmountScale = 6

// Quantize truncates a value to the canonical six decimal places, rounding
// toward zero.
func Quantize(value decimal.Decimal) decimal.Decimal {
	return value.Truncate(AmountScale)
}

// ParseAmount converts a string into a quantized amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("escrow: parse amount %q: %w", raw, err)
	}
	return Quantize(value), nil
}

// FormatAmount renders a value with exactly six fractional digits. Signed
// request payloads depend on this fixed formatting.
func FormatAmount(value decimal.Decimal) string {
	return Quantize(value).StringFixed(AmountScale)
}

// ToMicroUnits converts a decimal amount into the token's native integer
// units (value x 10^6).
func ToMicroUnits(value decimal.Decimal) int64 {
	return Quantize(value).Shift(AmountScale).IntPart()
}

// FromMicroUnits converts native integer units back into a decimal amount.
func FromMicroUnits(raw int64) decimal.Decimal {
	return decimal.New(raw, -AmountScale)
}
