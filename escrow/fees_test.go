package escrow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFlatFeeBelowThreshold(t *testing.T) {
	snapshot := DefaultFeeSnapshot()
	amount := decimal.NewFromInt(50)
	if got := snapshot.Fee(amount); got.String() != "5" {
		t.Fatalf("expected flat fee 5, got %s", got)
	}
	if got := snapshot.Net(amount); got.String() != "45" {
		t.Fatalf("expected net 45, got %s", got)
	}
}

func TestPercentFeeAboveThreshold(t *testing.T) {
	snapshot := DefaultFeeSnapshot()
	amount := decimal.NewFromInt(200)
	if got := snapshot.Fee(amount); got.String() != "4" {
		t.Fatalf("expected fee 4, got %s", got)
	}
	if got := snapshot.Net(amount); got.String() != "196" {
		t.Fatalf("expected net 196, got %s", got)
	}
}

func TestFeeAtThresholdBoundary(t *testing.T) {
	snapshot := DefaultFeeSnapshot()
	atThreshold := decimal.NewFromInt(100)
	if got := snapshot.Fee(atThreshold); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("amount == threshold must use flat fee, got %s", got)
	}
	justAbove := decimal.RequireFromString("100.000001")
	want := Quantize(justAbove.Mul(snapshot.Percent))
	if got := snapshot.Fee(justAbove); !got.Equal(want) {
		t.Fatalf("amount just above threshold must use percent fee, got %s want %s", got, want)
	}
}

func TestFeePlusNetEqualsAmount(t *testing.T) {
	snapshot := DefaultFeeSnapshot()
	for _, raw := range []string{"1", "99.999999", "100", "100.000001", "250.5", "1234.567890"} {
		amount := decimal.RequireFromString(raw)
		fee := snapshot.Fee(amount)
		net := snapshot.Net(amount)
		if !fee.Add(net).Equal(Quantize(amount)) {
			t.Fatalf("fee %s + net %s != amount %s", fee, net, amount)
		}
	}
}
