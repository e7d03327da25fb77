package store

import (
	"database/sql"
	"fmt"
	"time"

	"eve-market-intel/internal/market"
)

// ReplaceOrders truncates market_order and bulk-inserts rows inside one
// transaction: either the table reflects the new order book fully or the
// prior snapshot is retained.
func (s *Store) ReplaceOrders(orders []market.Order, typeNames map[int32]string) error {
	return withRetry(func() error {
		tx, err := s.sql.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM market_order`); err != nil {
			return fmt.Errorf("truncate market_order: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339)
		if err := chunkedInsert(tx, len(orders), chunkSize, func(i int) []interface{} {
			o := orders[i]
			return []interface{}{
				o.OrderID, o.TypeID, typeNames[o.TypeID], o.VolumeRemain,
				o.Price.String(), o.Issued.UTC().Format(time.RFC3339), o.Duration,
				boolToInt(o.IsBuyOrder), now,
			}
		}, `INSERT INTO market_order
			(order_id, type_id, type_name, volume_remain, price, issued, duration, is_buy_order, timestamp)
			VALUES `, 9); err != nil {
			return fmt.Errorf("insert market_order: %w", err)
		}

		return tx.Commit()
	})
}

// ReadOrders returns the full current order book.
func (s *Store) ReadOrders() ([]market.Order, error) {
	rows, err := s.sql.Query(`SELECT order_id, type_id, volume_remain, price, issued, duration, is_buy_order FROM market_order`)
	if err != nil {
		return nil, fmt.Errorf("read market_order: %w", err)
	}
	defer rows.Close()

	var out []market.Order
	for rows.Next() {
		var o market.Order
		var priceStr, issuedStr string
		var isBuy int
		if err := rows.Scan(&o.OrderID, &o.TypeID, &o.VolumeRemain, &priceStr, &issuedStr, &o.Duration, &isBuy); err != nil {
			return nil, fmt.Errorf("scan market_order row: %w", err)
		}
		o.Price = mustDecimal(priceStr)
		o.Issued, _ = time.Parse(time.RFC3339, issuedStr)
		o.IsBuyOrder = isBuy != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertHistory is idempotent on the composite key (date, type_id):
// insert-or-replace each row.
func (s *Store) UpsertHistory(points []market.HistoryPoint, typeNames map[int32]string) error {
	if len(points) == 0 {
		return nil
	}
	return withRetry(func() error {
		tx, err := s.sql.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO market_history (date, type_id, type_name, average, highest, lowest, order_count, volume, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(date, type_id) DO UPDATE SET
				type_name = excluded.type_name,
				average = excluded.average,
				highest = excluded.highest,
				lowest = excluded.lowest,
				order_count = excluded.order_count,
				volume = excluded.volume,
				timestamp = excluded.timestamp`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for _, p := range points {
			dateStr := p.Date.UTC().Format("2006-01-02")
			if _, err := stmt.Exec(dateStr, p.TypeID, typeNames[p.TypeID],
				p.Average.String(), p.Highest.String(), p.Lowest.String(),
				p.OrderCount, p.Volume, now); err != nil {
				return fmt.Errorf("upsert market_history row type_id=%d date=%s: %w", p.TypeID, dateStr, err)
			}
		}
		return tx.Commit()
	})
}

// ReadHistory returns every history row with date >= today - days.
func (s *Store) ReadHistory(days int) ([]market.HistoryPoint, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	rows, err := s.sql.Query(`
		SELECT date, type_id, average, highest, lowest, order_count, volume
		FROM market_history WHERE date >= ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("read market_history: %w", err)
	}
	defer rows.Close()

	var out []market.HistoryPoint
	for rows.Next() {
		var p market.HistoryPoint
		var dateStr, avgStr, hiStr, loStr string
		if err := rows.Scan(&dateStr, &p.TypeID, &avgStr, &hiStr, &loStr, &p.OrderCount, &p.Volume); err != nil {
			return nil, fmt.Errorf("scan market_history row: %w", err)
		}
		p.Date, _ = time.Parse("2006-01-02", dateStr)
		p.Average = mustDecimal(avgStr)
		p.Highest = mustDecimal(hiStr)
		p.Lowest = mustDecimal(loStr)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplaceStats truncates market_stats and bulk-inserts the new rows.
func (s *Store) ReplaceStats(stats []market.Stat) error {
	return withRetry(func() error {
		tx, err := s.sql.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM market_stats`); err != nil {
			return fmt.Errorf("truncate market_stats: %w", err)
		}

		if err := chunkedInsert(tx, len(stats), chunkSize, func(i int) []interface{} {
			st := stats[i]
			return []interface{}{
				st.TypeID, st.TotalVolumeRemain, st.MinPrice.String(), st.PriceLowPercentile.String(),
				st.AvgOfAvgPrice.String(), st.AvgDailyVolume, st.GroupID, st.TypeName, st.GroupName,
				st.CategoryID, st.CategoryName, st.DaysRemaining, st.ComparatorSell.String(),
				st.ComparatorBuy.String(), st.Timestamp.UTC().Format(time.RFC3339),
			}
		}, `INSERT INTO market_stats
			(type_id, total_volume_remain, min_price, price_low_percentile, avg_of_avg_price,
			 avg_daily_volume, group_id, type_name, group_name, category_id, category_name,
			 days_remaining, comparator_sell, comparator_buy, timestamp)
			VALUES `, 15); err != nil {
			return fmt.Errorf("insert market_stats: %w", err)
		}

		return tx.Commit()
	})
}

// ReadStats returns the current stats snapshot.
func (s *Store) ReadStats() ([]market.Stat, error) {
	rows, err := s.sql.Query(`
		SELECT type_id, total_volume_remain, min_price, price_low_percentile, avg_of_avg_price,
		       avg_daily_volume, group_id, type_name, group_name, category_id, category_name,
		       days_remaining, comparator_sell, comparator_buy, timestamp
		FROM market_stats`)
	if err != nil {
		return nil, fmt.Errorf("read market_stats: %w", err)
	}
	defer rows.Close()

	var out []market.Stat
	for rows.Next() {
		var st market.Stat
		var minPrice, lowPct, avgAvg, compSell, compBuy, ts string
		if err := rows.Scan(&st.TypeID, &st.TotalVolumeRemain, &minPrice, &lowPct, &avgAvg,
			&st.AvgDailyVolume, &st.GroupID, &st.TypeName, &st.GroupName, &st.CategoryID,
			&st.CategoryName, &st.DaysRemaining, &compSell, &compBuy, &ts); err != nil {
			return nil, fmt.Errorf("scan market_stats row: %w", err)
		}
		st.MinPrice = mustDecimal(minPrice)
		st.PriceLowPercentile = mustDecimal(lowPct)
		st.AvgOfAvgPrice = mustDecimal(avgAvg)
		st.ComparatorSell = mustDecimal(compSell)
		st.ComparatorBuy = mustDecimal(compBuy)
		st.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, st)
	}
	return out, rows.Err()
}

// ReplaceDoctrines truncates doctrines and bulk-inserts the new rows.
func (s *Store) ReplaceDoctrines(rows []market.DoctrineRow) error {
	return withRetry(func() error {
		tx, err := s.sql.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM doctrines`); err != nil {
			return fmt.Errorf("truncate doctrines: %w", err)
		}

		if err := chunkedInsert(tx, len(rows), chunkSize, func(i int) []interface{} {
			r := rows[i]
			return []interface{}{
				r.FitID, r.TypeID, r.CategoryName, r.FitName, r.ShipTypeName, r.TypeName,
				r.QuantityRequired, r.Stock, r.FitsOnMarket, r.DaysRemaining, r.PriceLowPercentile.String(),
				r.AvgDailyVolume, r.AvgOfAvgPrice.String(), r.Delta, r.DoctrineName, r.GroupName,
				r.CategoryID, r.GroupID, r.DoctrineID, r.ShipTypeID, r.Timestamp.UTC().Format(time.RFC3339),
			}
		}, `INSERT INTO doctrines
			(fit_id, type_id, category, fit, ship, item, qty, stock, fits, days, price_low,
			 avg_vol, avg_price, delta, doctrine, "group", cat_id, grp_id, doc_id, ship_id, timestamp)
			VALUES `, 21); err != nil {
			return fmt.Errorf("insert doctrines: %w", err)
		}

		return tx.Commit()
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func chunkedInsert(tx *sql.Tx, n, size int, rowValues func(i int) []interface{}, insertPrefix string, cols int) error {
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		placeholder := rowPlaceholder(cols)
		query := insertPrefix
		args := make([]interface{}, 0, (end-start)*cols)
		for i := start; i < end; i++ {
			if i > start {
				query += ","
			}
			query += placeholder
			args = append(args, rowValues(i)...)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			return err
		}
	}
	return nil
}

func rowPlaceholder(cols int) string {
	p := "("
	for i := 0; i < cols; i++ {
		if i > 0 {
			p += ","
		}
		p += "?"
	}
	return p + ")"
}
