// Package pipeline orchestrates one ingest-aggregate-evaluate cycle,
// wiring together the Store, TypeCatalog, fetchers, aggregator and
// doctrine evaluator behind the external collaborator interfaces
// defined here.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"eve-market-intel/internal/logger"
	"eve-market-intel/internal/market"
)

// ErrCycleBusy is returned immediately (no side effects) when Run is
// called while a prior cycle is still in flight.
var ErrCycleBusy = errors.New("pipeline: cycle already in progress")

// AuthError indicates the token could not be obtained or refreshed.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RateBudgetExhaustedError indicates the cycle aborted before writing
// because the server's error-limit budget reached zero.
type RateBudgetExhaustedError struct{ Err error }

func (e *RateBudgetExhaustedError) Error() string { return fmt.Sprintf("rate budget exhausted: %v", e.Err) }
func (e *RateBudgetExhaustedError) Unwrap() error  { return e.Err }

// StoreError wraps a persistence failure that survived retry.
type StoreError struct{ Err error }

func (e *StoreError) Error() string { return fmt.Sprintf("store: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// TokenProvider supplies the bearer token used to authenticate order-book
// fetches. forceRefresh is set exactly once, after a 401.
type TokenProvider interface {
	GetToken(ctx context.Context, forceRefresh bool) (string, error)
}

// FitCatalog supplies the active doctrine fits and the set of type ids
// they reference (folded into the watchlist each cycle).
type FitCatalog interface {
	ListActiveFits(ctx context.Context) ([]market.Fit, error)
	ReferencedTypes(ctx context.Context) ([]int32, error)
}

// StatsSink receives the stats snapshot after it is durably written.
// Failure is logged and does not affect cycle success.
type StatsSink interface {
	PublishStats(ctx context.Context, stats []market.Stat) error
}

// DoctrineSink receives the doctrine snapshot after it is durably
// written. Failure is logged and does not affect cycle success.
type DoctrineSink interface {
	PublishDoctrines(ctx context.Context, rows []market.DoctrineRow) error
}

// Store is the subset of *store.Store the pipeline drives directly.
type Store interface {
	ReadWatchlist() (map[int32]bool, error)
	MergeWatchlist(infos []market.TypeInfo) error
	ReplaceOrders(orders []market.Order, typeNames map[int32]string) error
	ReadHistory(days int) ([]market.HistoryPoint, error)
	UpsertHistory(points []market.HistoryPoint, typeNames map[int32]string) error
	ReplaceStats(stats []market.Stat) error
	ReplaceDoctrines(rows []market.DoctrineRow) error
}

// Catalog is the subset of *typecatalog.Catalog the pipeline needs for
// denormalizing names before a store write.
type Catalog interface {
	ResetWarnings()
	TypeNames(typeIDs []int32) map[int32]string
}

// OrderFetcher abstracts internal/esi's paginated order fetch so this
// package never imports the concrete esi package.
type OrderFetcher interface {
	Fetch(ctx context.Context, tokenFn func(ctx context.Context, forceRefresh bool) (string, error)) ([]market.Order, OrderTelemetry, error)
}

// OrderTelemetry mirrors esi.OrderFetcherTelemetry's shape without a
// direct dependency on that package.
type OrderTelemetry struct {
	PagesFetched int
	PagesFailed  []int
}

// HistoryFetcher abstracts internal/esi's per-item history fetch.
type HistoryFetcher interface {
	FetchAll(ctx context.Context, typeIDs []int32, progress func(completed, total int, typeID int32, typeName string)) ([]market.HistoryPoint, HistoryTelemetry, error)
}

// HistoryTelemetry mirrors esi.HistoryFetcherTelemetry's shape.
type HistoryTelemetry struct {
	ItemsFetched int
	ItemsFailed  []int32
}

// PriceAugmenter abstracts internal/esi's comparator-price enrichment.
// It never returns an error: failure degrades to an empty map, per
// spec's best-effort contract.
type PriceAugmenter interface {
	Fetch(ctx context.Context, typeIDs []int32) map[int32]ComparatorPrice
}

// ComparatorPrice mirrors esi.ComparatorPrice's shape.
type ComparatorPrice struct {
	ComparatorSell decimal.Decimal
	ComparatorBuy  decimal.Decimal
}

// Aggregator abstracts internal/aggregator.Aggregate.
type Aggregator interface {
	Aggregate(orders []market.Order, history []market.HistoryPoint, watchlist []int32, now time.Time) []market.Stat
}

// Evaluator abstracts internal/doctrine.Evaluate.
type Evaluator interface {
	Evaluate(fits []market.Fit, stats []market.Stat, target int64, now time.Time) []market.DoctrineRow
}

// Config holds the cycle's tunables, per spec §6.6.
type Config struct {
	DoctrineTarget  int64
	FreshHistory    bool
	HistoryLookback int
}

// Pipeline orchestrates one cycle at a time. Concurrent Run calls are
// rejected with ErrCycleBusy rather than queued, mirroring the
// single-holder mutex the teacher uses for its own double-checked-lock
// health cache.
type Pipeline struct {
	store      Store
	catalog    Catalog
	tokens     TokenProvider
	fits       FitCatalog
	orders     OrderFetcher
	history    HistoryFetcher
	augmenter  PriceAugmenter
	aggregator Aggregator
	evaluator  Evaluator
	statsSink  StatsSink
	doctrSink  DoctrineSink
	cfg        Config

	mu   sync.Mutex
	busy bool
}

// New wires a Pipeline from its collaborators. Sinks and the augmenter
// may be nil: their absence degrades the corresponding step to a no-op.
func New(store Store, catalog Catalog, tokens TokenProvider, fits FitCatalog,
	orders OrderFetcher, history HistoryFetcher, augmenter PriceAugmenter,
	agg Aggregator, eval Evaluator, statsSink StatsSink, doctrSink DoctrineSink, cfg Config) *Pipeline {
	return &Pipeline{
		store: store, catalog: catalog, tokens: tokens, fits: fits,
		orders: orders, history: history, augmenter: augmenter,
		aggregator: agg, evaluator: eval, statsSink: statsSink, doctrSink: doctrSink, cfg: cfg,
	}
}

// CycleResult summarizes one completed cycle for the caller and the
// cycle-summary log line.
type CycleResult struct {
	RunID            string
	PagesFetched     int
	PagesFailed      int
	OrdersRetrieved  int
	HistoryFetched   int
	HistoryFailed    int
	StatsWritten     int
	DoctrinesWritten int
	Elapsed          time.Duration
}

// Run executes exactly one cycle, in the fixed order from spec §4.8. A
// cancellation received between steps aborts before the next step
// starts; already-committed Store state is preserved.
func (p *Pipeline) Run(ctx context.Context) (CycleResult, error) {
	if !p.acquire() {
		return CycleResult{}, ErrCycleBusy
	}
	defer p.release()

	runID := uuid.NewString()
	t0 := time.Now()
	result := CycleResult{RunID: runID}
	p.catalog.ResetWarnings()

	logger.Info("CYCLE", fmt.Sprintf("%s starting", runID))

	watchlist, err := p.buildWatchlist(ctx)
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	orders, orderTel, err := p.orders.Fetch(ctx, p.tokens.GetToken)
	result.PagesFetched = orderTel.PagesFetched
	result.PagesFailed = len(orderTel.PagesFailed)
	result.OrdersRetrieved = len(orders)
	if err != nil {
		return result, classifyFetchErr(err)
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	typeNames := p.catalog.TypeNames(watchlist)
	if err := p.store.ReplaceOrders(orders, typeNames); err != nil {
		return result, &StoreError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	history, err := p.fetchOrReadHistory(ctx, watchlist, typeNames, &result)
	if err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	stats := p.aggregator.Aggregate(orders, history, watchlist, t0)

	if p.augmenter != nil {
		p.applyComparatorPrices(ctx, stats)
	}

	if err := p.store.ReplaceStats(stats); err != nil {
		return result, &StoreError{Err: err}
	}
	result.StatsWritten = len(stats)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	fits, err := p.fits.ListActiveFits(ctx)
	if err != nil {
		return result, fmt.Errorf("list active fits: %w", err)
	}
	doctrines := p.evaluator.Evaluate(fits, stats, p.cfg.DoctrineTarget, t0)
	if err := p.store.ReplaceDoctrines(doctrines); err != nil {
		return result, &StoreError{Err: err}
	}
	result.DoctrinesWritten = len(doctrines)

	p.publishBestEffort(ctx, stats, doctrines)

	result.Elapsed = time.Since(t0)
	logger.CycleSummary(runID, result.PagesFetched, result.PagesFailed, result.OrdersRetrieved,
		result.HistoryFetched, result.HistoryFailed, result.StatsWritten, result.DoctrinesWritten, result.Elapsed)
	return result, nil
}

func (p *Pipeline) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return false
	}
	p.busy = true
	return true
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// buildWatchlist unions the stored watchlist with every type id the
// active fits reference, merging the union back into the store so the
// next cycle's read already reflects it.
func (p *Pipeline) buildWatchlist(ctx context.Context) ([]int32, error) {
	stored, err := p.store.ReadWatchlist()
	if err != nil {
		return nil, &StoreError{Err: err}
	}

	referenced, err := p.fits.ReferencedTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("referenced types: %w", err)
	}

	union := make(map[int32]bool, len(stored)+len(referenced))
	for id := range stored {
		union[id] = true
	}
	var newlyReferenced []market.TypeInfo
	for _, id := range referenced {
		if !union[id] {
			newlyReferenced = append(newlyReferenced, market.TypeInfo{TypeID: id})
		}
		union[id] = true
	}
	if len(newlyReferenced) > 0 {
		if err := p.store.MergeWatchlist(newlyReferenced); err != nil {
			return nil, &StoreError{Err: err}
		}
	}

	out := make([]int32, 0, len(union))
	for id := range union {
		out = append(out, id)
	}
	return out, nil
}

func (p *Pipeline) fetchOrReadHistory(ctx context.Context, watchlist []int32, typeNames map[int32]string, result *CycleResult) ([]market.HistoryPoint, error) {
	lookback := p.cfg.HistoryLookback
	if lookback <= 0 {
		lookback = 30
	}

	if !p.cfg.FreshHistory {
		history, err := p.store.ReadHistory(lookback)
		if err != nil {
			return nil, &StoreError{Err: err}
		}
		return history, nil
	}

	history, tel, err := p.history.FetchAll(ctx, watchlist, nil)
	result.HistoryFetched = tel.ItemsFetched
	result.HistoryFailed = len(tel.ItemsFailed)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if err := p.store.UpsertHistory(history, typeNames); err != nil {
		return nil, &StoreError{Err: err}
	}
	return p.store.ReadHistory(lookback)
}

func (p *Pipeline) applyComparatorPrices(ctx context.Context, stats []market.Stat) {
	typeIDs := make([]int32, len(stats))
	for i, s := range stats {
		typeIDs[i] = s.TypeID
	}
	prices := p.augmenter.Fetch(ctx, typeIDs)
	if len(prices) == 0 {
		return
	}
	for i := range stats {
		if cp, ok := prices[stats[i].TypeID]; ok {
			stats[i].ComparatorSell = cp.ComparatorSell
			stats[i].ComparatorBuy = cp.ComparatorBuy
		}
	}
}

func (p *Pipeline) publishBestEffort(ctx context.Context, stats []market.Stat, doctrines []market.DoctrineRow) {
	if p.statsSink != nil {
		if err := p.statsSink.PublishStats(ctx, stats); err != nil {
			logger.Warn("SINK", fmt.Sprintf("stats publish failed: %v", err))
		}
	}
	if p.doctrSink != nil {
		if err := p.doctrSink.PublishDoctrines(ctx, doctrines); err != nil {
			logger.Warn("SINK", fmt.Sprintf("doctrine publish failed: %v", err))
		}
	}
}

func classifyFetchErr(err error) error {
	return fmt.Errorf("fetch orders: %w", err)
}
