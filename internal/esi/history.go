package esi

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"eve-market-intel/internal/logger"
	"eve-market-intel/internal/market"
)

const (
	historyRetryAttempts = 5
	historyRetryDelay    = 3 * time.Second
	historyItemTimeout   = 10 * time.Second // bounds each request attempt

	// DefaultHistoryConcurrency and MaxHistoryConcurrency bound the
	// number of in-flight per-item history requests.
	DefaultHistoryConcurrency = 8
	MaxHistoryConcurrency     = 16
)

type historyWire struct {
	Date       string  `json:"date"`
	Average    float64 `json:"average"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	Volume     int64   `json:"volume"`
	OrderCount int64   `json:"order_count"`
}

// ProgressFunc reports one completed item in a history fetch batch.
type ProgressFunc func(itemsCompleted, itemsTotal int, currentTypeID int32, currentTypeName string)

// HistoryFetcherTelemetry summarizes one FetchAll call.
type HistoryFetcherTelemetry struct {
	ItemsFetched int
	ItemsFailed  []int32
	Elapsed      time.Duration
}

// HistoryFetcher retrieves the trailing daily trade history for a set of
// type ids, one request per item, bounded to a configurable concurrency.
type HistoryFetcher struct {
	client      *Client
	baseURL     string
	regionID    int32
	concurrency int
}

// NewHistoryFetcher builds a HistoryFetcher for the given region.
// concurrency is clamped to [1, MaxHistoryConcurrency]; 0 selects
// DefaultHistoryConcurrency.
func NewHistoryFetcher(client *Client, baseURL string, regionID int32, concurrency int) *HistoryFetcher {
	if concurrency <= 0 {
		concurrency = DefaultHistoryConcurrency
	}
	if concurrency > MaxHistoryConcurrency {
		concurrency = MaxHistoryConcurrency
	}
	return &HistoryFetcher{client: client, baseURL: baseURL, regionID: regionID, concurrency: concurrency}
}

// typeNamer resolves a type_id to a display name for progress reporting;
// a miss returns "".
type typeNamer interface {
	ShipName(typeID int32) string
}

// FetchAll retrieves history for every type id in typeIDs, respecting
// the fetcher's concurrency cap. Items that fail every retry are
// recorded in telemetry and omitted from the result, not retried
// further. An item whose response is an empty array has no trade
// history and is skipped without being treated as a failure.
func (f *HistoryFetcher) FetchAll(ctx context.Context, typeIDs []int32, names typeNamer, progress ProgressFunc) ([]market.HistoryPoint, HistoryFetcherTelemetry, error) {
	start := time.Now()
	sem := semaphore.NewWeighted(int64(f.concurrency))

	var (
		mu        sync.Mutex
		points    []market.HistoryPoint
		failed    []int32
		completed int
	)

	var wg sync.WaitGroup
	total := len(typeIDs)
	var firstErr error

	for _, typeID := range typeIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			firstErr = err
			break
		}
		wg.Add(1)
		go func(typeID int32) {
			defer wg.Done()
			defer sem.Release(1)

			pts, err := f.fetchItem(ctx, typeID)

			mu.Lock()
			completed++
			if err != nil {
				failed = append(failed, typeID)
				logger.Warn("ESI", fmt.Sprintf("history type_id %d: %v", typeID, err))
			} else {
				points = append(points, pts...)
			}
			var name string
			if names != nil {
				name = names.ShipName(typeID)
			}
			c := completed
			mu.Unlock()

			if progress != nil {
				progress(c, total, typeID, name)
			}
		}(typeID)
	}
	wg.Wait()

	if firstErr != nil {
		return points, HistoryFetcherTelemetry{}, firstErr
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].TypeID != points[j].TypeID {
			return points[i].TypeID < points[j].TypeID
		}
		return points[i].Date.Before(points[j].Date)
	})

	tel := HistoryFetcherTelemetry{
		ItemsFetched: total - len(failed),
		ItemsFailed:  failed,
		Elapsed:      time.Since(start),
	}
	return points, tel, nil
}

func (f *HistoryFetcher) fetchItem(ctx context.Context, typeID int32) ([]market.HistoryPoint, error) {
	url := fmt.Sprintf("%s/markets/%d/history/?type_id=%d", f.baseURL, f.regionID, typeID)

	var lastErr error
	for attempt := 1; attempt <= historyRetryAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, historyItemTimeout)
		resp, err := f.client.get(reqCtx, url, "")
		cancel()
		if err != nil {
			lastErr = err
			if waitOrDone(ctx, historyRetryDelay) != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.status != 200 {
			lastErr = fmt.Errorf("status %d", resp.status)
			if waitOrDone(ctx, historyRetryDelay) != nil {
				return nil, ctx.Err()
			}
			continue
		}

		var wire []historyWire
		if err := decodeJSON(resp.body, &wire); err != nil {
			lastErr = err
			if waitOrDone(ctx, historyRetryDelay) != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if len(wire) == 0 {
			return nil, nil
		}
		return toHistoryPoints(typeID, wire), nil
	}
	return nil, lastErr
}

func toHistoryPoints(typeID int32, wire []historyWire) []market.HistoryPoint {
	out := make([]market.HistoryPoint, 0, len(wire))
	for _, w := range wire {
		date, _ := time.Parse("2006-01-02", w.Date)
		out = append(out, market.HistoryPoint{
			Date:       date,
			TypeID:     typeID,
			Average:    decimal.NewFromFloat(w.Average),
			Highest:    decimal.NewFromFloat(w.Highest),
			Lowest:     decimal.NewFromFloat(w.Lowest),
			Volume:     w.Volume,
			OrderCount: w.OrderCount,
		})
	}
	return out
}
