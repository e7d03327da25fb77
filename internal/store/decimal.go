package store

import "github.com/shopspring/decimal"

// mustDecimal parses a stored decimal string, defaulting to zero for
// blank/invalid values rather than failing a whole read — a missing
// price field should never abort a report.
func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
