package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"eve-market-intel/internal/market"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func findStat(stats []market.Stat, typeID int32) (market.Stat, bool) {
	for _, s := range stats {
		if s.TypeID == typeID {
			return s, true
		}
	}
	return market.Stat{}, false
}

// E1 — percentile and min agree on degenerate input.
func TestAggregate_E1_DegenerateSingleOrder(t *testing.T) {
	orders := []market.Order{
		{TypeID: 100, IsBuyOrder: false, VolumeRemain: 10, Price: dec("5.0")},
	}
	stats := Aggregate(orders, nil, []int32{100}, nil, time.Now())

	s, ok := findStat(stats, 100)
	if !ok {
		t.Fatal("expected stat row for type 100")
	}
	if s.TotalVolumeRemain != 10 {
		t.Errorf("TotalVolumeRemain = %d, want 10", s.TotalVolumeRemain)
	}
	if !s.MinPrice.Equal(dec("5.0")) {
		t.Errorf("MinPrice = %s, want 5.0", s.MinPrice)
	}
	if !s.PriceLowPercentile.Equal(dec("5.0")) {
		t.Errorf("PriceLowPercentile = %s, want 5.0", s.PriceLowPercentile)
	}
	if s.AvgDailyVolume != 0 || s.DaysRemaining != 0 {
		t.Errorf("expected zeroed history fields, got AvgDailyVolume=%v DaysRemaining=%v", s.AvgDailyVolume, s.DaysRemaining)
	}
}

// E2 — 5th percentile under many orders.
func TestAggregate_E2_ManyOrders(t *testing.T) {
	var orders []market.Order
	for i := 1; i <= 100; i++ {
		orders = append(orders, market.Order{
			TypeID: 200, IsBuyOrder: false, VolumeRemain: 1, Price: decimal.NewFromInt(int64(i)),
		})
	}
	stats := Aggregate(orders, nil, []int32{200}, nil, time.Now())

	s, ok := findStat(stats, 200)
	if !ok {
		t.Fatal("expected stat row for type 200")
	}
	if !s.MinPrice.Equal(dec("1.0")) {
		t.Errorf("MinPrice = %s, want 1.0", s.MinPrice)
	}
	if !s.PriceLowPercentile.Equal(dec("5.95")) {
		t.Errorf("PriceLowPercentile = %s, want 5.95", s.PriceLowPercentile)
	}
	if s.TotalVolumeRemain != 100 {
		t.Errorf("TotalVolumeRemain = %d, want 100", s.TotalVolumeRemain)
	}
}

// E3 — buy orders excluded.
func TestAggregate_E3_BuyOrdersExcluded(t *testing.T) {
	orders := []market.Order{
		{TypeID: 300, IsBuyOrder: false, VolumeRemain: 5, Price: dec("10")},
		{TypeID: 300, IsBuyOrder: true, VolumeRemain: 99, Price: dec("9")},
	}
	stats := Aggregate(orders, nil, []int32{300}, nil, time.Now())

	s, ok := findStat(stats, 300)
	if !ok {
		t.Fatal("expected stat row for type 300")
	}
	if s.TotalVolumeRemain != 5 {
		t.Errorf("TotalVolumeRemain = %d, want 5", s.TotalVolumeRemain)
	}
	if !s.MinPrice.Equal(dec("10")) {
		t.Errorf("MinPrice = %s, want 10", s.MinPrice)
	}
}

func TestAggregate_WatchlistedTypeWithNoData(t *testing.T) {
	stats := Aggregate(nil, nil, []int32{999}, nil, time.Now())
	s, ok := findStat(stats, 999)
	if !ok {
		t.Fatal("expected a zeroed row for a watchlisted type with no orders or history")
	}
	if s.TotalVolumeRemain != 0 || s.AvgDailyVolume != 0 || s.DaysRemaining != 0 {
		t.Errorf("expected all-zero row, got %+v", s)
	}
}

func TestAggregate_HistoryReduction(t *testing.T) {
	now := time.Now().UTC()
	history := []market.HistoryPoint{
		{Date: now.AddDate(0, 0, -1), TypeID: 400, Average: dec("10"), Volume: 100},
		{Date: now.AddDate(0, 0, -2), TypeID: 400, Average: dec("20"), Volume: 200},
	}
	stats := Aggregate(nil, history, []int32{400}, nil, now)
	s, ok := findStat(stats, 400)
	if !ok {
		t.Fatal("expected stat row for type 400")
	}
	if !s.AvgOfAvgPrice.Equal(dec("15")) {
		t.Errorf("AvgOfAvgPrice = %s, want 15", s.AvgOfAvgPrice)
	}
	if s.AvgDailyVolume != 150 {
		t.Errorf("AvgDailyVolume = %v, want 150", s.AvgDailyVolume)
	}
}

func TestAggregate_HistoryOutsideLookbackExcluded(t *testing.T) {
	now := time.Now().UTC()
	history := []market.HistoryPoint{
		{Date: now.AddDate(0, 0, -45), TypeID: 500, Average: dec("10"), Volume: 100},
	}
	stats := Aggregate(nil, history, []int32{500}, nil, now)
	s, _ := findStat(stats, 500)
	if s.AvgDailyVolume != 0 {
		t.Errorf("expected history older than lookback to be excluded, got AvgDailyVolume=%v", s.AvgDailyVolume)
	}
}
