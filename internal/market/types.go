// Package market holds the domain entities shared across the ingestion,
// storage, aggregation and doctrine-evaluation components. No component
// package imports another component's package directly; they share only
// these types and the interfaces declared in internal/pipeline.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// TypeInfo is the identity -> (name, group, category) lookup row for a
// tradeable item type. Reference data, loaded out of band into the
// type_catalog table and refreshed into memory at startup.
type TypeInfo struct {
	TypeID       int32
	TypeName     string
	GroupID      int32
	GroupName    string
	CategoryID   int32
	CategoryName string
}

// Order is one live buy or sell offer in a structure's order book. A
// fetched order set replaces the whole table each cycle; there is no
// per-order update tracking.
type Order struct {
	OrderID      int64
	TypeID       int32
	IsBuyOrder   bool
	Price        decimal.Decimal
	VolumeRemain int64
	VolumeTotal  int64
	Issued       time.Time
	Duration     int32
	Range        string
}

// HistoryPoint is one day's aggregated trade statistics for one type.
// Identity is the composite (Date, TypeID); immutable once written for a
// given date, upserted into the history table.
type HistoryPoint struct {
	Date       time.Time // UTC calendar date, time-of-day truncated
	TypeID     int32
	Average    decimal.Decimal
	Highest    decimal.Decimal
	Lowest     decimal.Decimal
	Volume     int64
	OrderCount int64
}

// Stat is the per-item market statistic row, fully rebuilt each cycle
// from the live order book joined to a 30-day history window.
type Stat struct {
	TypeID             int32
	TypeName           string
	GroupID            int32
	GroupName          string
	CategoryID         int32
	CategoryName       string
	TotalVolumeRemain  int64
	MinPrice           decimal.Decimal
	PriceLowPercentile decimal.Decimal
	AvgOfAvgPrice      decimal.Decimal
	AvgDailyVolume     float64
	DaysRemaining      float64
	ComparatorSell     decimal.Decimal // from PriceAugmenter; zero if unavailable
	ComparatorBuy      decimal.Decimal
	Timestamp          time.Time
}

// Component is one (type, quantity) entry in a Fit's bill of materials.
type Component struct {
	TypeID   int32
	Quantity int64
}

// Fit is a named ship configuration: the hull plus required components.
// Read-only, sourced from the external FitCatalog.
type Fit struct {
	FitID         int64
	FitName       string
	ShipTypeID    int32
	ShipTypeName  string
	DoctrineID    int64
	DoctrineName  string
	Components    []Component
}

// RetiredPrefix marks fits that are no longer part of an active doctrine.
const RetiredPrefix = "zz "

// DoctrineRow is one (fit, component) availability row. Fully rebuilt
// each cycle from the Fit BOM joined against current stock.
type DoctrineRow struct {
	FitID              int64
	FitName            string
	DoctrineID         int64
	DoctrineName       string
	ShipTypeID         int32
	ShipTypeName       string
	TypeID             int32
	TypeName           string
	CategoryID         int32
	CategoryName       string
	GroupID            int32
	GroupName          string
	QuantityRequired   int64
	Stock              int64
	FitsOnMarket       int64
	Target             int64
	Delta              int64
	PriceLowPercentile decimal.Decimal
	AvgOfAvgPrice      decimal.Decimal
	AvgDailyVolume     float64
	DaysRemaining      float64
	Timestamp          time.Time
}

// Percentile returns the p-th percentile (0..100) of a sorted ascending
// slice of decimals using linear interpolation between adjacent order
// statistics (the standard continuous-percentile definition).
func Percentile(sorted []decimal.Decimal, p float64) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n == 1 {
		return sorted[0]
	}
	idx := decimal.NewFromFloat(p).Mul(decimal.NewFromInt(int64(n - 1))).Div(decimal.NewFromInt(100))
	lower := int(idx.IntPart())
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := idx.Sub(decimal.NewFromInt(int64(lower)))
	return sorted[lower].Add(sorted[upper].Sub(sorted[lower]).Mul(frac))
}

// Round2 rounds a decimal to 2 places. It does no non-finite coercion:
// decimal arithmetic never produces NaN/Inf, but float64 inputs derived
// from averages elsewhere in the pipeline might; callers that pass
// through a float should use SanitizeFloat first.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SanitizeFloat coerces NaN and +/-Inf to zero so they are never written
// to the store or emitted to a sink.
func SanitizeFloat(f float64) float64 {
	if f != f { // NaN
		return 0
	}
	if f > 1e308 || f < -1e308 {
		return 0
	}
	return f
}

// DaysRemaining computes stock / avgDailyVolume, rounded to 1 decimal,
// returning exactly 0 when avgDailyVolume is 0 (spec property #4).
func DaysRemaining(stock int64, avgDailyVolume float64) float64 {
	if avgDailyVolume <= 0 {
		return 0
	}
	v := float64(stock) / avgDailyVolume
	return roundTo(SanitizeFloat(v), 1)
}

func roundTo(v float64, places int) float64 {
	mul := 1.0
	for i := 0; i < places; i++ {
		mul *= 10
	}
	return float64(int64(v*mul+sign(v)*0.5)) / mul
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
