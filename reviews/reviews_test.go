package reviews

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"trustora/chains"
)

func TestPublicHashIsStableAndSaltDependent(t *testing.T) {
	a := PublicHash(42, "salt")
	if a != PublicHash(42, "salt") {
		t.Fatalf("hash must be deterministic")
	}
	if !strings.HasPrefix(a, "U#") || len(a) != 6 {
		t.Fatalf("unexpected hash form %s", a)
	}
	if a != strings.ToUpper(a) {
		t.Fatalf("hash must be uppercase: %s", a)
	}
	if a == PublicHash(42, "other") {
		t.Fatalf("salt must change the hash")
	}
	if a == PublicHash(43, "salt") {
		t.Fatalf("user must change the hash")
	}
}

func TestMaskRoomCode(t *testing.T) {
	if got := MaskRoomCode("TR-A1B2C3"); got != "TR-A1****" {
		t.Fatalf("mask = %s", got)
	}
	if got := MaskRoomCode("TR-A"); got != "TR-A" {
		t.Fatalf("short codes pass through, got %s", got)
	}
}

func TestAmountBucket(t *testing.T) {
	cases := []struct {
		amount string
		want   string
	}{
		{"99.999999", "under 100 USDT"},
		{"100", "100-500 USDT"},
		{"499.999999", "100-500 USDT"},
		{"500", "500-1000 USDT"},
		{"1000", "over 1000 USDT"},
	}
	for _, tc := range cases {
		got := AmountBucket(decimal.RequireFromString(tc.amount))
		if got != tc.want {
			t.Fatalf("bucket(%s) = %s, want %s", tc.amount, got, tc.want)
		}
	}
}

func TestBuildPostHidesIdentity(t *testing.T) {
	post := BuildPost(1, 2, "salt", "TR-A1B2C3", chains.TRC20,
		decimal.RequireFromString("250"), 5, "smooth deal")
	rendered := post.Render()
	if strings.Contains(rendered, "TR-A1B2C3") {
		t.Fatalf("full room code leaked: %s", rendered)
	}
	if strings.Contains(rendered, "250") {
		t.Fatalf("exact amount leaked: %s", rendered)
	}
	if !strings.Contains(rendered, "★★★★★") {
		t.Fatalf("rating missing: %s", rendered)
	}
	if !strings.Contains(rendered, "100-500 USDT") {
		t.Fatalf("bucket missing: %s", rendered)
	}
}
