// Package doctrine evaluates per-fit market availability: for each
// active fit's bill of materials, how many complete fits the current
// stock supports, and how that compares to an operator-set target.
package doctrine

import (
	"sort"
	"time"

	"eve-market-intel/internal/logger"
	"eve-market-intel/internal/market"
)

// Catalog is the subset of typecatalog.Catalog this package needs.
type Catalog interface {
	EnrichDoctrineRow(r *market.DoctrineRow)
	ShipName(shipTypeID int32) string
}

// componentKey collapses duplicate (fit, type) component entries before
// they are emitted as rows.
type componentKey struct {
	fitID  int64
	typeID int32
}

// Evaluate computes one DoctrineRow per (fit, component) pair across all
// active fits, joined against current stock. Fits with an empty
// component list are dropped and logged; a fit whose hull is unknown to
// the catalog is still emitted with blank names.
func Evaluate(fits []market.Fit, stats []market.Stat, target int64, cat Catalog, now time.Time) []market.DoctrineRow {
	stockByType := make(map[int32]market.Stat, len(stats))
	for _, s := range stats {
		stockByType[s.TypeID] = s
	}

	var rows []market.DoctrineRow
	for _, fit := range fits {
		if len(fit.Components) == 0 {
			logger.Warn("DOCTRINE", "fit "+fit.FitName+" has no components, dropped")
			continue
		}

		quantities := groupSumComponents(fit)
		if _, hasHull := quantities[componentKey{fit.FitID, fit.ShipTypeID}]; !hasHull {
			quantities[componentKey{fit.FitID, fit.ShipTypeID}] = 1
		}

		keys := make([]componentKey, 0, len(quantities))
		for k := range quantities {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].typeID < keys[j].typeID })

		shipName := fit.ShipTypeName
		if shipName == "" && cat != nil {
			shipName = cat.ShipName(fit.ShipTypeID)
		}

		for _, k := range keys {
			qty := quantities[k]
			stock := stockByType[k.typeID]

			row := market.DoctrineRow{
				FitID:              fit.FitID,
				FitName:            fit.FitName,
				DoctrineID:         fit.DoctrineID,
				DoctrineName:       fit.DoctrineName,
				ShipTypeID:         fit.ShipTypeID,
				ShipTypeName:       shipName,
				TypeID:             k.typeID,
				QuantityRequired:   qty,
				Stock:              stock.TotalVolumeRemain,
				Target:             target,
				PriceLowPercentile: stock.PriceLowPercentile,
				AvgOfAvgPrice:      stock.AvgOfAvgPrice,
				AvgDailyVolume:     stock.AvgDailyVolume,
				DaysRemaining:      stock.DaysRemaining,
				Timestamp:          now,
			}
			row.FitsOnMarket = row.Stock / qty
			row.Delta = row.FitsOnMarket - target

			if cat != nil {
				cat.EnrichDoctrineRow(&row)
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// groupSumComponents expands a fit's BOM and collapses duplicate
// (fit_id, type_id) entries by summing quantities.
func groupSumComponents(fit market.Fit) map[componentKey]int64 {
	out := make(map[componentKey]int64, len(fit.Components))
	for _, c := range fit.Components {
		k := componentKey{fit.FitID, c.TypeID}
		out[k] += c.Quantity
	}
	return out
}

// MinFitsOnMarket returns the binding-constraint availability for one
// fit: the minimum fits_on_market across all of its component rows.
// Sinks that need a single per-fit number (rather than the full
// component breakdown Evaluate emits) derive it with this helper.
func MinFitsOnMarket(rows []market.DoctrineRow, fitID int64) int64 {
	var min int64 = -1
	for _, r := range rows {
		if r.FitID != fitID {
			continue
		}
		if min == -1 || r.FitsOnMarket < min {
			min = r.FitsOnMarket
		}
	}
	if min == -1 {
		return 0
	}
	return min
}
