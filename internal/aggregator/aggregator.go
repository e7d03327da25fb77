// Package aggregator reduces a structure's live order book and recent
// trade history into one market_stats row per watchlisted item.
package aggregator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"eve-market-intel/internal/market"
)

// sellPercentile is the percentile used for price_low_percentile; fixed
// by the property that buy orders are excluded entirely from this
// aggregation (sell-side only, per the source's only surviving variant).
const sellPercentile = 5.0

// historyLookbackDays is the default trailing window for the
// history-side reduction; callers with a configured lookback pass it
// explicitly via AggregateWithLookback.
const historyLookbackDays = 30

// Catalog is the subset of typecatalog.Catalog this package needs —
// an interface seam so aggregator never imports the concrete package.
type Catalog interface {
	EnrichStat(s *market.Stat)
}

// Aggregate reduces orders and history into one Stat per watchlisted
// type id, using the default 30-day history lookback.
func Aggregate(orders []market.Order, history []market.HistoryPoint, watchlist []int32, cat Catalog, now time.Time) []market.Stat {
	return AggregateWithLookback(orders, history, watchlist, cat, now, historyLookbackDays)
}

// AggregateWithLookback is Aggregate with an explicit history window in
// days, used when a deployment overrides history_lookback_days.
func AggregateWithLookback(orders []market.Order, history []market.HistoryPoint, watchlist []int32, cat Catalog, now time.Time, lookbackDays int) []market.Stat {
	watchSet := make(map[int32]bool, len(watchlist))
	for _, id := range watchlist {
		watchSet[id] = true
	}

	orderAgg := reduceOrders(orders, watchSet)
	historyAgg := reduceHistory(history, watchSet, now, lookbackDays)

	stats := make([]market.Stat, 0, len(watchlist))
	for _, typeID := range watchlist {
		s := market.Stat{TypeID: typeID, Timestamp: now}

		if o, ok := orderAgg[typeID]; ok {
			s.TotalVolumeRemain = o.totalVolumeRemain
			s.MinPrice = o.minPrice
			s.PriceLowPercentile = o.priceLowPercentile
		}

		if h, ok := historyAgg[typeID]; ok {
			s.AvgOfAvgPrice = h.avgOfAvgPrice
			s.AvgDailyVolume = h.avgDailyVolume
		}

		s.DaysRemaining = market.DaysRemaining(s.TotalVolumeRemain, s.AvgDailyVolume)

		if cat != nil {
			cat.EnrichStat(&s)
		}

		stats = append(stats, s)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].TypeID < stats[j].TypeID })
	return stats
}

type orderReduction struct {
	totalVolumeRemain  int64
	minPrice           decimal.Decimal
	priceLowPercentile decimal.Decimal
}

func reduceOrders(orders []market.Order, watchSet map[int32]bool) map[int32]orderReduction {
	byType := make(map[int32][]market.Order)
	for _, o := range orders {
		if o.IsBuyOrder {
			continue
		}
		if !watchSet[o.TypeID] {
			continue
		}
		byType[o.TypeID] = append(byType[o.TypeID], o)
	}

	out := make(map[int32]orderReduction, len(byType))
	for typeID, sells := range byType {
		var total int64
		prices := make([]decimal.Decimal, 0, len(sells))
		min := sells[0].Price
		for _, o := range sells {
			total += o.VolumeRemain
			if o.Price.LessThan(min) {
				min = o.Price
			}
			prices = append(prices, o.Price)
		}
		sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

		out[typeID] = orderReduction{
			totalVolumeRemain:  total,
			minPrice:           min,
			priceLowPercentile: market.Percentile(prices, sellPercentile),
		}
	}
	return out
}

type historyReduction struct {
	avgOfAvgPrice  decimal.Decimal
	avgDailyVolume float64
}

func reduceHistory(history []market.HistoryPoint, watchSet map[int32]bool, now time.Time, lookbackDays int) map[int32]historyReduction {
	cutoff := now.AddDate(0, 0, -lookbackDays)

	byType := make(map[int32][]market.HistoryPoint)
	for _, h := range history {
		if !watchSet[h.TypeID] {
			continue
		}
		if h.Date.Before(cutoff) {
			continue
		}
		byType[h.TypeID] = append(byType[h.TypeID], h)
	}

	out := make(map[int32]historyReduction, len(byType))
	for typeID, points := range byType {
		var avgSum decimal.Decimal
		var volSum int64
		for _, p := range points {
			avgSum = avgSum.Add(p.Average)
			volSum += p.Volume
		}
		n := int64(len(points))
		avgOfAvg := market.Round2(avgSum.Div(decimal.NewFromInt(n)))
		avgVol := market.SanitizeFloat(float64(volSum) / float64(n))
		avgVol = roundTo2(avgVol)

		out[typeID] = historyReduction{
			avgOfAvgPrice:  avgOfAvg,
			avgDailyVolume: avgVol,
		}
	}
	return out
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+sign(v)*0.5)) / 100
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
