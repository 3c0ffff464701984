package ledger

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestPortion(t *testing.T) {
	cases := []struct {
		amount, bps, want uint64
	}{
		{4000, 100, 40},
		{10000, 1000, 1000},
		{99, 100, 0},
		{math.MaxUint64, BasisPoints, math.MaxUint64},
		{math.MaxUint64, 5000, math.MaxUint64 / 2},
	}
	for _, tc := range cases {
		if got := Portion(tc.amount, tc.bps); got != tc.want {
			t.Fatalf("Portion(%d, %d) = %d, want %d", tc.amount, tc.bps, got, tc.want)
		}
	}
}

func TestPortionNeverExceedsAmount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Uint64().Draw(t, "amount")
		bps := rapid.Uint64Range(0, BasisPoints).Draw(t, "bps")
		fee := Portion(amount, bps)
		if fee > amount {
			t.Fatalf("fee %d exceeds amount %d", fee, amount)
		}
		if amount <= math.MaxUint64/BasisPoints && fee != amount*bps/BasisPoints {
			t.Fatalf("fee %d differs from direct computation", fee)
		}
	})
}

func TestAddReportsOverflow(t *testing.T) {
	if sum, ok := Add(4000, 6000); !ok || sum != 10000 {
		t.Fatalf("Add(4000, 6000) = %d, %v", sum, ok)
	}
	if _, ok := Add(4000, math.MaxUint64-3999); ok {
		t.Fatalf("expected overflow to be reported")
	}
	if sum, ok := Add(math.MaxUint64, 0); !ok || sum != math.MaxUint64 {
		t.Fatalf("Add(max, 0) = %d, %v", sum, ok)
	}
}
