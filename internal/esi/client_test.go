package esi

import (
	"net/http"
	"testing"
)

func TestParseRateBudget(t *testing.T) {
	h := http.Header{}
	h.Set("X-ESI-Error-Limit-Remain", "5")
	h.Set("X-ESI-Error-Limit-Reset", "30")

	b := parseRateBudget(h)
	if !b.Known || b.Remain != 5 {
		t.Fatalf("parseRateBudget = %+v", b)
	}
	if !b.Low() {
		t.Error("expected Low() true for remain=5")
	}
	if b.Exhausted() {
		t.Error("expected Exhausted() false for remain=5")
	}
}

func TestRateBudget_Exhausted(t *testing.T) {
	b := RateBudget{Known: true, Remain: 0}
	if !b.Exhausted() {
		t.Error("expected Exhausted() true for remain=0")
	}
}

func TestParseXPages(t *testing.T) {
	h := http.Header{}
	h.Set("X-Pages", "7")
	n, ok := parseXPages(h)
	if !ok || n != 7 {
		t.Errorf("parseXPages = %d, %v, want 7, true", n, ok)
	}

	if _, ok := parseXPages(http.Header{}); ok {
		t.Error("expected ok=false when X-Pages absent")
	}
}
