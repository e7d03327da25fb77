package esi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noRefreshToken(ctx context.Context, forceRefresh bool) (string, error) {
	return "tok", nil
}

func TestOrderFetcher_Paginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("X-Pages", "2")
		w.Header().Set("X-ESI-Error-Limit-Remain", "100")
		w.Header().Set("X-ESI-Error-Limit-Reset", "60")
		w.WriteHeader(200)
		if page == "2" {
			fmt.Fprint(w, `[{"order_id":2,"type_id":100,"price":2.0,"volume_remain":5,"volume_total":5,"is_buy_order":false,"issued":"2024-01-01T00:00:00Z","duration":90,"range":"region"}]`)
			return
		}
		fmt.Fprint(w, `[{"order_id":1,"type_id":100,"price":1.0,"volume_remain":3,"volume_total":3,"is_buy_order":false,"issued":"2024-01-01T00:00:00Z","duration":90,"range":"region"}]`)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	client.limiter.SetLimit(1000) // avoid pacing in tests
	f := NewOrderFetcher(client, srv.URL, 12345)

	orders, tel, err := f.Fetch(context.Background(), noRefreshToken)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders across both pages, got %d", len(orders))
	}
	if tel.PagesFetched != 2 {
		t.Errorf("PagesFetched = %d, want 2", tel.PagesFetched)
	}
}

func TestOrderFetcher_RetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(200)
		fmt.Fprint(w, `[{"order_id":1,"type_id":100,"price":1.0,"volume_remain":1,"is_buy_order":false,"issued":"2024-01-01T00:00:00Z"}]`)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	client.limiter.SetLimit(1000)
	f := &OrderFetcher{client: client, baseURL: srv.URL, structureID: 1}

	orders, _, err := f.Fetch(context.Background(), noRefreshToken)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order after retry, got %d", len(orders))
	}
}

func TestOrderFetcher_RateBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ESI-Error-Limit-Remain", "0")
		w.Header().Set("X-Pages", "1")
		w.WriteHeader(200)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	client.limiter.SetLimit(1000)
	f := NewOrderFetcher(client, srv.URL, 1)

	_, _, err := f.Fetch(context.Background(), noRefreshToken)
	var budgetErr *RateBudgetExhaustedError
	if !asRateBudgetErr(err, &budgetErr) {
		t.Fatalf("expected RateBudgetExhaustedError, got %v", err)
	}
}

func asRateBudgetErr(err error, target **RateBudgetExhaustedError) bool {
	e, ok := err.(*RateBudgetExhaustedError)
	if ok {
		*target = e
	}
	return ok
}

func TestOrderFetcher_RateBudgetExhaustedOnErrorResponse(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("X-ESI-Error-Limit-Remain", "0")
		w.Header().Set("X-ESI-Error-Limit-Reset", "60")
		w.WriteHeader(420)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	client.limiter.SetLimit(1000)
	f := NewOrderFetcher(client, srv.URL, 1)

	_, _, err := f.Fetch(context.Background(), noRefreshToken)
	var budgetErr *RateBudgetExhaustedError
	if !asRateBudgetErr(err, &budgetErr) {
		t.Fatalf("expected RateBudgetExhaustedError from an exhausted error response, got %v", err)
	}
	if atomic.LoadInt32(&requests) != 1 {
		t.Errorf("expected the fetcher to halt after the first exhausted response without retrying, got %d requests", requests)
	}
}
