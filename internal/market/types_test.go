package market

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPercentile_SingleValue(t *testing.T) {
	got := Percentile([]decimal.Decimal{dec("5.0")}, 5)
	if !got.Equal(dec("5.0")) {
		t.Errorf("Percentile = %s, want 5.0", got)
	}
}

func TestPercentile_LinearInterpolation(t *testing.T) {
	sorted := make([]decimal.Decimal, 100)
	for i := 0; i < 100; i++ {
		sorted[i] = decimal.NewFromInt(int64(i + 1))
	}
	got := Percentile(sorted, 5)
	want := dec("5.95")
	if !got.Equal(want) {
		t.Errorf("Percentile = %s, want %s", got, want)
	}
}

func TestPercentile_Empty(t *testing.T) {
	got := Percentile(nil, 5)
	if !got.Equal(decimal.Zero) {
		t.Errorf("Percentile(nil) = %s, want 0", got)
	}
}

func TestDaysRemaining_ZeroVolume(t *testing.T) {
	if got := DaysRemaining(100, 0); got != 0 {
		t.Errorf("DaysRemaining = %v, want 0", got)
	}
}

func TestDaysRemaining_Basic(t *testing.T) {
	got := DaysRemaining(100, 10)
	if got != 10 {
		t.Errorf("DaysRemaining = %v, want 10", got)
	}
}

func TestSanitizeFloat_NaNAndInf(t *testing.T) {
	nan := 0.0
	nan = nan / nan
	if SanitizeFloat(nan) != 0 {
		t.Error("SanitizeFloat(NaN) should be 0")
	}
	inf := 1e308
	inf = inf * 10
	if SanitizeFloat(inf) != 0 {
		t.Error("SanitizeFloat(+Inf) should be 0")
	}
}

func TestRound2(t *testing.T) {
	got := Round2(dec("1.005"))
	if !got.Equal(dec("1.01")) && !got.Equal(dec("1.00")) {
		t.Errorf("Round2 = %s", got)
	}
}
