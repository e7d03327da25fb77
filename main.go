package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eve-market-intel/internal/aggregator"
	"eve-market-intel/internal/auth"
	"eve-market-intel/internal/config"
	"eve-market-intel/internal/doctrine"
	"eve-market-intel/internal/esi"
	"eve-market-intel/internal/fitcatalog"
	"eve-market-intel/internal/logger"
	"eve-market-intel/internal/market"
	"eve-market-intel/internal/pipeline"
	"eve-market-intel/internal/store"
	"eve-market-intel/internal/typecatalog"
)

var version = "dev"

func main() {
	logger.Banner(version)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("CONFIG", err.Error())
		os.Exit(1)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("STORE", fmt.Sprintf("open failed: %v", err))
		os.Exit(1)
	}
	defer db.Close()

	catalog, err := typecatalog.Load(db)
	if err != nil {
		logger.Error("CATALOG", fmt.Sprintf("load failed: %v", err))
		os.Exit(1)
	}

	fits, err := fitcatalog.Open(cfg.FitCatalogPath)
	if err != nil {
		logger.Error("FITCATALOG", fmt.Sprintf("open failed: %v", err))
		os.Exit(1)
	}
	defer fits.Close()

	token := auth.NewStaticTokenProvider(os.Getenv("EMI_ACCESS_TOKEN"))

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	httpClient := esi.NewClient(requestTimeout)
	orderFetcher := newOrderAdapter(esi.NewOrderFetcher(httpClient, cfg.ESIBaseURL, cfg.StructureID))
	historyFetcher := newHistoryAdapter(esi.NewHistoryFetcher(httpClient, cfg.ESIBaseURL, cfg.RegionID, cfg.HistoryConcurrency), catalog)
	augmenter := newAugmenterAdapter(esi.NewPriceAugmenter(httpClient, cfg.ESIBaseURL, cfg.RegionID))

	agg := aggregatorAdapter{catalog: catalog, lookback: cfg.HistoryLookbackDays}
	eval := evaluatorAdapter{catalog: catalog}

	p := pipeline.New(db, catalog, token, fits, orderFetcher, historyFetcher, augmenter,
		agg, eval, nil, nil, pipeline.Config{
			DoctrineTarget:  cfg.DoctrineTarget,
			FreshHistory:    cfg.FreshHistory,
			HistoryLookback: cfg.HistoryLookbackDays,
		})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCycle(ctx, p)

	if cfg.CycleInterval <= 0 {
		return
	}

	ticker := time.NewTicker(time.Duration(cfg.CycleInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("PIPELINE", "shutting down")
			return
		case <-ticker.C:
			runCycle(ctx, p)
		}
	}
}

func runCycle(ctx context.Context, p *pipeline.Pipeline) {
	if _, err := p.Run(ctx); err != nil {
		logger.Error("CYCLE", err.Error())
	}
}

// orderAdapter narrows esi.OrderFetcher's telemetry type to the
// pipeline package's interface shape without pipeline importing esi.
type orderAdapter struct {
	f *esi.OrderFetcher
}

func newOrderAdapter(f *esi.OrderFetcher) orderAdapter { return orderAdapter{f: f} }

func (a orderAdapter) Fetch(ctx context.Context, tokenFn func(ctx context.Context, forceRefresh bool) (string, error)) ([]market.Order, pipeline.OrderTelemetry, error) {
	orders, tel, err := a.f.Fetch(ctx, tokenFn)
	return orders, pipeline.OrderTelemetry{PagesFetched: tel.PagesFetched, PagesFailed: tel.PagesFailed}, asPipelineError(err)
}

// asPipelineError converts esi's typed fetch errors into the pipeline
// package's own equivalents, so callers that errors.As against
// pipeline.AuthError/pipeline.RateBudgetExhaustedError see a match
// regardless of which concrete fetcher produced the failure.
func asPipelineError(err error) error {
	var authErr *esi.AuthError
	if errors.As(err, &authErr) {
		return &pipeline.AuthError{Err: err}
	}
	var budgetErr *esi.RateBudgetExhaustedError
	if errors.As(err, &budgetErr) {
		return &pipeline.RateBudgetExhaustedError{Err: err}
	}
	return err
}

type historyAdapter struct {
	f   *esi.HistoryFetcher
	cat *typecatalog.Catalog
}

func newHistoryAdapter(f *esi.HistoryFetcher, cat *typecatalog.Catalog) historyAdapter {
	return historyAdapter{f: f, cat: cat}
}

func (a historyAdapter) FetchAll(ctx context.Context, typeIDs []int32, progress func(completed, total int, typeID int32, typeName string)) ([]market.HistoryPoint, pipeline.HistoryTelemetry, error) {
	var esiProgress esi.ProgressFunc
	if progress != nil {
		esiProgress = progress
	}
	points, tel, err := a.f.FetchAll(ctx, typeIDs, a.cat, esiProgress)
	return points, pipeline.HistoryTelemetry{ItemsFetched: tel.ItemsFetched, ItemsFailed: tel.ItemsFailed}, err
}

type augmenterAdapter struct {
	a *esi.PriceAugmenter
}

func newAugmenterAdapter(a *esi.PriceAugmenter) augmenterAdapter { return augmenterAdapter{a: a} }

func (w augmenterAdapter) Fetch(ctx context.Context, typeIDs []int32) map[int32]pipeline.ComparatorPrice {
	raw := w.a.Fetch(ctx, typeIDs)
	out := make(map[int32]pipeline.ComparatorPrice, len(raw))
	for id, cp := range raw {
		out[id] = pipeline.ComparatorPrice{ComparatorSell: cp.ComparatorSell, ComparatorBuy: cp.ComparatorBuy}
	}
	return out
}

type aggregatorAdapter struct {
	catalog  *typecatalog.Catalog
	lookback int
}

func (a aggregatorAdapter) Aggregate(orders []market.Order, history []market.HistoryPoint, watchlist []int32, now time.Time) []market.Stat {
	if a.lookback > 0 {
		return aggregator.AggregateWithLookback(orders, history, watchlist, a.catalog, now, a.lookback)
	}
	return aggregator.Aggregate(orders, history, watchlist, a.catalog, now)
}

type evaluatorAdapter struct {
	catalog *typecatalog.Catalog
}

func (e evaluatorAdapter) Evaluate(fits []market.Fit, stats []market.Stat, target int64, now time.Time) []market.DoctrineRow {
	return doctrine.Evaluate(fits, stats, target, e.catalog, now)
}
