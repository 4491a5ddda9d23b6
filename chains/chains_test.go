package chains

import "testing"

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		chain   Chain
		address string
		ok      bool
	}{
		{TRC20, "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf", true},
		{TRC20, "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeB", false},
		{TRC20, "0x52908400098527886E0F7030069857D2E4169EE7", false},
		{BEP20, "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{BEP20, "0x52908400098527886E0F7030069857D2E4169EE", false},
		{BEP20, "52908400098527886E0F7030069857D2E4169EE7", false},
		{BEP20, "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf", false},
		{Chain("DOGE"), "D7Y55r6Yoc1G8EECxkQ6SuSjTgGJJ7M6nD", false},
	}
	for _, tc := range cases {
		if got := ValidateAddress(tc.chain, tc.address); got != tc.ok {
			t.Fatalf("ValidateAddress(%s, %s) = %v, want %v", tc.chain, tc.address, got, tc.ok)
		}
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("trc20"); err != nil {
		t.Fatalf("parse should be case-insensitive: %v", err)
	}
	if _, err := Parse("ERC20"); err == nil {
		t.Fatalf("expected error for unsupported chain")
	}
}

func TestDefaultConfirmations(t *testing.T) {
	if got := DefaultConfirmations(TRC20); got != 20 {
		t.Fatalf("TRC20 confirmations = %d, want 20", got)
	}
	if got := DefaultConfirmations(BEP20); got != 12 {
		t.Fatalf("BEP20 confirmations = %d, want 12", got)
	}
}

func TestCursorKeys(t *testing.T) {
	if got := CursorKey(TRC20); got != "tron:last_block" {
		t.Fatalf("unexpected cursor key %s", got)
	}
	if got := RescanKey(BEP20); got != "bsc:last_rescan" {
		t.Fatalf("unexpected rescan key %s", got)
	}
}
