package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"eve-market-intel/internal/market"
)

type fakeStore struct {
	mu        sync.Mutex
	watchlist map[int32]bool
	orders    []market.Order
	history   []market.HistoryPoint
	stats     []market.Stat
	doctrines []market.DoctrineRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{watchlist: map[int32]bool{100: true}}
}

func (f *fakeStore) ReadWatchlist() (map[int32]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int32]bool, len(f.watchlist))
	for k, v := range f.watchlist {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) MergeWatchlist(infos []market.TypeInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, info := range infos {
		f.watchlist[info.TypeID] = true
	}
	return nil
}

func (f *fakeStore) ReplaceOrders(orders []market.Order, typeNames map[int32]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = orders
	return nil
}

func (f *fakeStore) ReadHistory(days int) ([]market.HistoryPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeStore) UpsertHistory(points []market.HistoryPoint, typeNames map[int32]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, points...)
	return nil
}

func (f *fakeStore) ReplaceStats(stats []market.Stat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = stats
	return nil
}

func (f *fakeStore) ReplaceDoctrines(rows []market.DoctrineRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doctrines = rows
	return nil
}

type fakeCatalog struct{}

func (fakeCatalog) ResetWarnings()                             {}
func (fakeCatalog) TypeNames(typeIDs []int32) map[int32]string { return map[int32]string{} }

type fakeTokens struct{}

func (fakeTokens) GetToken(ctx context.Context, forceRefresh bool) (string, error) {
	return "token", nil
}

type fakeFits struct{}

func (fakeFits) ListActiveFits(ctx context.Context) ([]market.Fit, error) { return nil, nil }
func (fakeFits) ReferencedTypes(ctx context.Context) ([]int32, error)     { return []int32{100}, nil }

type fakeOrders struct {
	blockUntil <-chan struct{}
}

func (f fakeOrders) Fetch(ctx context.Context, tokenFn func(ctx context.Context, forceRefresh bool) (string, error)) ([]market.Order, OrderTelemetry, error) {
	if f.blockUntil != nil {
		select {
		case <-f.blockUntil:
		case <-ctx.Done():
			return nil, OrderTelemetry{}, ctx.Err()
		}
	}
	return []market.Order{{TypeID: 100, VolumeRemain: 10}}, OrderTelemetry{PagesFetched: 1}, nil
}

type fakeHistory struct{}

func (fakeHistory) FetchAll(ctx context.Context, typeIDs []int32, progress func(completed, total int, typeID int32, typeName string)) ([]market.HistoryPoint, HistoryTelemetry, error) {
	return nil, HistoryTelemetry{}, nil
}

type fakeAggregator struct{}

func (fakeAggregator) Aggregate(orders []market.Order, history []market.HistoryPoint, watchlist []int32, now time.Time) []market.Stat {
	return []market.Stat{{TypeID: 100, Timestamp: now}}
}

type fakeEvaluator struct{}

func (fakeEvaluator) Evaluate(fits []market.Fit, stats []market.Stat, target int64, now time.Time) []market.DoctrineRow {
	return nil
}

func newTestPipeline(orders OrderFetcher) (*Pipeline, *fakeStore) {
	s := newFakeStore()
	p := New(s, fakeCatalog{}, fakeTokens{}, fakeFits{}, orders, fakeHistory{}, nil,
		fakeAggregator{}, fakeEvaluator{}, nil, nil, Config{DoctrineTarget: 20, FreshHistory: false})
	return p, s
}

func TestRun_HappyPath(t *testing.T) {
	p, s := newTestPipeline(fakeOrders{})
	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.OrdersRetrieved != 1 || result.StatsWritten != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(s.orders) != 1 || len(s.stats) != 1 {
		t.Errorf("expected store to receive orders and stats, got orders=%d stats=%d", len(s.orders), len(s.stats))
	}
}

func TestRun_RejectsConcurrentCycle(t *testing.T) {
	block := make(chan struct{})
	p, _ := newTestPipeline(fakeOrders{blockUntil: block})

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		errCh <- err
	}()

	// Give the first Run a moment to acquire the busy flag.
	time.Sleep(20 * time.Millisecond)

	if _, err := p.Run(context.Background()); err != ErrCycleBusy {
		t.Errorf("expected ErrCycleBusy, got %v", err)
	}

	close(block)
	if err := <-errCh; err != nil {
		t.Errorf("first Run returned error: %v", err)
	}
}

func TestRun_CancellationStopsBeforeNextStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, s := newTestPipeline(fakeOrders{})
	_, err := p.Run(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if len(s.stats) != 0 {
		t.Error("expected no stats write when context is already cancelled")
	}
}
