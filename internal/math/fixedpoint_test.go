package math_test

import (
	"math/big"
	"testing"

	fpmath "SynthLedger/internal/math"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big.Int literal: %s", s)
	}
	return v
}

func TestNormalizePrice_EightDecimalFeed(t *testing.T) {
	// 2000 USD quoted with 8 feed decimals
	got := fpmath.NormalizePrice(2000_00000000, 8)
	want := mustBig(t, "2000000000000000000000") // 2000e18

	if got.Cmp(want) != 0 {
		t.Errorf("NormalizePrice = %s, want %s", got, want)
	}
}

func TestNormalizePrice_EighteenDecimalFeed(t *testing.T) {
	got := fpmath.NormalizePrice(42, 18)
	if got.Int64() != 42 {
		t.Errorf("NormalizePrice = %s, want 42", got)
	}
}

func TestNormalizePrice_MoreThanWorkingDecimals(t *testing.T) {
	// 20 feed decimals scale down by 100 with truncation
	got := fpmath.NormalizePrice(12345, 20)
	if got.Int64() != 123 {
		t.Errorf("NormalizePrice = %s, want 123", got)
	}
}

func TestUSDValue_FifteenUnitsAtTwoThousand(t *testing.T) {
	price := fpmath.NormalizePrice(2000_00000000, 8)
	amount := mustBig(t, "15000000000000000000") // 15e18

	got := fpmath.USDValue(price, amount)
	want := mustBig(t, "30000000000000000000000") // 30000e18

	if got.Cmp(want) != 0 {
		t.Errorf("USDValue = %s, want %s", got, want)
	}
}

func TestTokenAmountForUSD_HundredDollarsAtTwoThousand(t *testing.T) {
	price := fpmath.NormalizePrice(2000_00000000, 8)
	usd := mustBig(t, "100000000000000000000") // 100e18

	got := fpmath.TokenAmountForUSD(usd, price)
	want := mustBig(t, "50000000000000000") // 0.05e18

	if got.Cmp(want) != 0 {
		t.Errorf("TokenAmountForUSD = %s, want %s", got, want)
	}
}

func TestRoundTrip_NeverCreatesValue(t *testing.T) {
	// With floor division in both directions, converting an amount to USD
	// and back must never yield more than the original amount.
	prices := []struct {
		raw      int64
		decimals uint8
	}{
		{2000_00000000, 8},
		{1, 8},
		{999_999_999, 8},
		{3_141_592_653_589, 12},
		{7, 0},
	}
	amounts := []string{
		"1",
		"999",
		"1000000000000000001",
		"15000000000000000000",
		"123456789123456789123456789",
	}

	for _, p := range prices {
		price := fpmath.NormalizePrice(p.raw, p.decimals)
		if price.Sign() <= 0 {
			continue
		}
		for _, a := range amounts {
			amount := mustBig(t, a)
			usd := fpmath.USDValue(price, amount)
			back := fpmath.TokenAmountForUSD(usd, price)
			if back.Cmp(amount) > 0 {
				t.Errorf("round trip created value: price=%d/%d amount=%s back=%s",
					p.raw, p.decimals, amount, back)
			}
		}
	}
}

func TestMulDivFloor_Truncates(t *testing.T) {
	got := fpmath.MulDivFloor(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	if got.Int64() != 10 { // 21/2 = 10.5 floors to 10
		t.Errorf("MulDivFloor = %s, want 10", got)
	}
}

func TestPercentOf(t *testing.T) {
	cases := []struct {
		amount string
		pct    int64
		want   string
	}{
		{"1000", 50, "500"},
		{"1000", 10, "100"},
		{"15", 10, "1"}, // 1.5 floors to 1
		{"9", 10, "0"},  // 0.9 floors to 0
	}

	for _, c := range cases {
		got := fpmath.PercentOf(mustBig(t, c.amount), c.pct)
		if got.String() != c.want {
			t.Errorf("PercentOf(%s, %d) = %s, want %s", c.amount, c.pct, got, c.want)
		}
	}
}

func TestRatio(t *testing.T) {
	// 10000 / 20000 = 0.5 in 18-decimal fixed point
	got := fpmath.Ratio(mustBig(t, "10000"), mustBig(t, "20000"))
	want := mustBig(t, "500000000000000000")

	if got.Cmp(want) != 0 {
		t.Errorf("Ratio = %s, want %s", got, want)
	}
}
