package esi

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"eve-market-intel/internal/logger"
	"eve-market-intel/internal/market"
)

const (
	pageRetryAttempts = 5
	pageRetryDelay    = 3 * time.Second
)

// AuthError is returned when a page fetch fails authentication twice in
// a row: once with the stale token, once after a single forced refresh.
type AuthError struct {
	Page int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("page %d: authentication failed after token refresh", e.Page)
}

// RateBudgetExhaustedError is returned when the server-reported error
// budget hits zero mid-fetch; the fetcher halts immediately rather than
// risking a ban.
type RateBudgetExhaustedError struct {
	PageReached int
}

func (e *RateBudgetExhaustedError) Error() string {
	return fmt.Sprintf("error-limit budget exhausted at page %d", e.PageReached)
}

// orderWire is the wire shape of one order-book entry.
type orderWire struct {
	OrderID      int64   `json:"order_id"`
	TypeID       int32   `json:"type_id"`
	IsBuyOrder   bool    `json:"is_buy_order"`
	Price        float64 `json:"price"`
	VolumeRemain int64   `json:"volume_remain"`
	VolumeTotal  int64   `json:"volume_total"`
	Issued       string  `json:"issued"`
	Duration     int32   `json:"duration"`
	Range        string  `json:"range"`
}

// OrderFetcherTelemetry summarizes one Fetch call for the cycle-summary
// log line and for the pipeline's own bookkeeping.
type OrderFetcherTelemetry struct {
	PagesFetched       int
	PagesFailed        []int
	MaxPages           int
	MinBudgetRemaining int
	BudgetKnown        bool
	Elapsed            time.Duration
}

// OrderFetcher pages through a structure's full order book.
type OrderFetcher struct {
	client      *Client
	baseURL     string
	structureID int64
}

// NewOrderFetcher builds an OrderFetcher against the given structure.
// baseURL has no trailing slash, e.g. "https://esi.example.com/latest".
func NewOrderFetcher(client *Client, baseURL string, structureID int64) *OrderFetcher {
	return &OrderFetcher{client: client, baseURL: baseURL, structureID: structureID}
}

// TokenFunc returns the current bearer token; it is called once up
// front and again exactly once if a page fetch comes back 401.
type TokenFunc func(ctx context.Context, forceRefresh bool) (string, error)

// Fetch retrieves every page of the structure's order book. Pages that
// exhaust their retry budget are recorded in telemetry and skipped; a
// 401 that survives one forced token refresh aborts the whole fetch
// with AuthError, and an exhausted rate budget aborts immediately with
// RateBudgetExhaustedError.
func (f *OrderFetcher) Fetch(ctx context.Context, tokenFn TokenFunc) ([]market.Order, OrderFetcherTelemetry, error) {
	start := time.Now()
	tel := OrderFetcherTelemetry{MaxPages: 1}

	token, err := tokenFn(ctx, false)
	if err != nil {
		return nil, tel, fmt.Errorf("initial token: %w", err)
	}

	var orders []market.Order
	page := 1
	for page <= tel.MaxPages {
		if err := ctx.Err(); err != nil {
			return orders, tel, err
		}

		pageOrders, pages, budget, err := f.fetchPage(ctx, page, &token, tokenFn)

		if budget.Known {
			if !tel.BudgetKnown || budget.Remain < tel.MinBudgetRemaining {
				tel.MinBudgetRemaining = budget.Remain
				tel.BudgetKnown = true
			}
			logRateBudget("ESI", budget)
		}

		if err != nil {
			var authErr *AuthError
			if asAuthError(err, &authErr) {
				return orders, tel, err
			}
			if budget.Known && budget.Exhausted() {
				return orders, tel, &RateBudgetExhaustedError{PageReached: page}
			}
			logger.Warn("ESI", fmt.Sprintf("page %d: giving up after %d attempts: %v", page, pageRetryAttempts, err))
			tel.PagesFailed = append(tel.PagesFailed, page)
			page++
			continue
		}

		if budget.Known && budget.Exhausted() {
			return orders, tel, &RateBudgetExhaustedError{PageReached: page}
		}

		if pages > tel.MaxPages {
			tel.MaxPages = pages
		}

		orders = append(orders, pageOrders...)
		tel.PagesFetched++
		page++
	}

	tel.Elapsed = time.Since(start)
	return orders, tel, nil
}

func asAuthError(err error, target **AuthError) bool {
	ae, ok := err.(*AuthError)
	if ok {
		*target = ae
	}
	return ok
}

func (f *OrderFetcher) fetchPage(ctx context.Context, page int, token *string, tokenFn TokenFunc) ([]market.Order, int, RateBudget, error) {
	url := fmt.Sprintf("%s/markets/structures/%d/?page=%d", f.baseURL, f.structureID, page)

	var lastErr error
	var lastBudget RateBudget
	authRetried := false
	for attempt := 1; attempt <= pageRetryAttempts; attempt++ {
		resp, err := f.client.get(ctx, url, *token)
		if err != nil {
			lastErr = err
			if waitOrDone(ctx, pageRetryDelay) != nil {
				return nil, 0, lastBudget, ctx.Err()
			}
			continue
		}

		switch {
		case resp.status == 200:
			var wire []orderWire
			if err := decodeJSON(resp.body, &wire); err != nil {
				lastErr = err
				lastBudget = resp.rateBudget
				if waitOrDone(ctx, pageRetryDelay) != nil {
					return nil, 0, lastBudget, ctx.Err()
				}
				continue
			}
			return toOrders(wire), resp.totalPages, resp.rateBudget, nil

		case resp.status == 401:
			if authRetried {
				return nil, 0, resp.rateBudget, &AuthError{Page: page}
			}
			authRetried = true
			newToken, err := tokenFn(ctx, true)
			if err != nil {
				return nil, 0, resp.rateBudget, &AuthError{Page: page}
			}
			*token = newToken
			continue

		default:
			lastErr = fmt.Errorf("page %d: status %d", page, resp.status)
			lastBudget = resp.rateBudget
			if lastBudget.Known && lastBudget.Exhausted() {
				// The server is telling us to stop; retrying into a
				// dead error budget only risks a ban.
				return nil, 0, lastBudget, lastErr
			}
			if waitOrDone(ctx, pageRetryDelay) != nil {
				return nil, 0, lastBudget, ctx.Err()
			}
		}
	}
	return nil, 0, lastBudget, lastErr
}

func waitOrDone(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func toOrders(wire []orderWire) []market.Order {
	out := make([]market.Order, 0, len(wire))
	for _, w := range wire {
		issued, _ := time.Parse(time.RFC3339, w.Issued)
		out = append(out, market.Order{
			OrderID:      w.OrderID,
			TypeID:       w.TypeID,
			IsBuyOrder:   w.IsBuyOrder,
			Price:        decimal.NewFromFloat(w.Price),
			VolumeRemain: w.VolumeRemain,
			VolumeTotal:  w.VolumeTotal,
			Issued:       issued,
			Duration:     w.Duration,
			Range:        w.Range,
		})
	}
	return out
}
