package esi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPriceAugmenter_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("types") != "1,2" {
			t.Errorf("types param = %q, want 1,2", r.URL.Query().Get("types"))
		}
		w.WriteHeader(200)
		fmt.Fprint(w, `{"1":{"buy":9.5,"sell":10.5}}`)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	client.limiter.SetLimit(1000)
	a := NewPriceAugmenter(client, srv.URL, 10000002)

	prices := a.Fetch(context.Background(), []int32{1, 2})
	if len(prices) != 1 {
		t.Fatalf("expected 1 comparator price, got %d", len(prices))
	}
	if !prices[1].ComparatorSell.Equal(decimal.NewFromFloat(10.5)) {
		t.Errorf("ComparatorSell = %s, want 10.5", prices[1].ComparatorSell)
	}
}

func TestPriceAugmenter_Fetch_MultipleIDsAndBadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		fmt.Fprint(w, `{"1":{"buy":9.5,"sell":10.5},"2":{"buy":1.0,"sell":1.5},"not-a-number":{"buy":0,"sell":0}}`)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	client.limiter.SetLimit(1000)
	a := NewPriceAugmenter(client, srv.URL, 10000002)

	prices := a.Fetch(context.Background(), []int32{1, 2})
	if len(prices) != 2 {
		t.Fatalf("expected 2 comparator prices (bad key skipped), got %d: %+v", len(prices), prices)
	}
	if !prices[2].ComparatorBuy.Equal(decimal.NewFromFloat(1.0)) {
		t.Errorf("ComparatorBuy for id 2 = %s, want 1.0", prices[2].ComparatorBuy)
	}
}

func TestPriceAugmenter_FailureIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	client.limiter.SetLimit(1000)
	a := NewPriceAugmenter(client, srv.URL, 1)

	prices := a.Fetch(context.Background(), []int32{1})
	if len(prices) != 0 {
		t.Errorf("expected empty result on server error, got %d entries", len(prices))
	}
}
