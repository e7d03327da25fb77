// Package esi is the authenticated, rate-budget-aware HTTP fetch layer:
// the paginated order-book fetcher (C3), the per-item history fetcher
// (C4), and the comparator-price augmenter (C7). All three share one
// low-level Client for request pacing, User-Agent, and rate-limit header
// parsing; each fetcher runs its own retry loop.
package esi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"eve-market-intel/internal/logger"
)

// defaultPageRate self-paces OrderFetcher's page-by-page GETs
// independent of the server's advertised error-limit headers, so a
// structure with thousands of pages doesn't hammer the API in a tight
// loop even when every page succeeds.
const defaultPageRate = 20 // requests per second

// userAgent is sent on every request; ESI-alike APIs require a
// descriptive identifier so an operator can be contacted if a client
// misbehaves.
const userAgent = "eve-market-intel/1.0 (+operator contact in deployment config)"

// Client is a thin HTTP wrapper that attaches the mandatory headers,
// paces requests, and surfaces the rate-budget headers to callers via
// RateBudget. It does not retry; the fetchers do.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a Client tuned for bulk paginated fetches: a large
// idle-connection pool so hundreds of sequential pages reuse TCP/TLS
// instead of re-handshaking each time.
func NewClient(requestTimeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     120 * time.Second,
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(defaultPageRate), defaultPageRate),
	}
}

// RateBudget is the server's advertised error-allowance state, parsed
// from X-ESI-Error-Limit-Remain / X-ESI-Error-Limit-Reset.
type RateBudget struct {
	Remain int
	Reset  time.Duration
	Known  bool
}

// Exhausted reports whether the budget has hit zero and the caller must
// halt immediately without advancing.
func (b RateBudget) Exhausted() bool {
	return b.Known && b.Remain <= 0
}

// Low reports whether the budget warrants a warning (but not a halt).
func (b RateBudget) Low() bool {
	return b.Known && b.Remain > 0 && b.Remain < 10
}

func parseRateBudget(h http.Header) RateBudget {
	remainStr := h.Get("X-ESI-Error-Limit-Remain")
	resetStr := h.Get("X-ESI-Error-Limit-Reset")
	if remainStr == "" {
		return RateBudget{}
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return RateBudget{}
	}
	resetSec, _ := strconv.Atoi(resetStr)
	return RateBudget{Remain: remain, Reset: time.Duration(resetSec) * time.Second, Known: true}
}

func parseXPages(h http.Header) (int, bool) {
	p := h.Get("X-Pages")
	if p == "" {
		return 0, false
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0, false
	}
	return n, true
}

// rawResponse is the decoded outcome of a single GET: the raw body (for
// json.Unmarshal by the caller), status code, rate budget and X-Pages.
type rawResponse struct {
	status     int
	body       []byte
	rateBudget RateBudget
	totalPages int
	hasPages   bool
}

// get issues one GET with the mandatory headers and an optional bearer
// token. It does not retry — retry policy differs enough between
// OrderFetcher (per-page, 5 attempts, 3s) and HistoryFetcher (per-item,
// 5 attempts, 3s, then skip) that each owns its own retry loop around
// this primitive.
func (c *Client) get(ctx context.Context, url, bearerToken string) (rawResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return rawResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return rawResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return rawResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, fmt.Errorf("read body: %w", err)
	}

	totalPages, hasPages := parseXPages(resp.Header)
	return rawResponse{
		status:     resp.StatusCode,
		body:       body,
		rateBudget: parseRateBudget(resp.Header),
		totalPages: totalPages,
		hasPages:   hasPages,
	}, nil
}

func decodeJSON(body []byte, dst interface{}) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func logRateBudget(tag string, b RateBudget) {
	if !b.Known {
		return
	}
	if b.Low() {
		logger.Warn(tag, fmt.Sprintf("error-limit remaining low: %d (resets in %s)", b.Remain, b.Reset))
	}
}
