package esi

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"eve-market-intel/internal/logger"
)

const augmentRequestTimeout = 10 * time.Second

// comparatorWire is the per-id value in the aggregates endpoint's JSON
// map response: `{"<type_id>": {"buy": ..., "sell": ...}, ...}`.
type comparatorWire struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
}

// ComparatorPrice is one type's external reference prices, used to
// left-join a "comparator_sell"/"comparator_buy" column pair onto stats.
type ComparatorPrice struct {
	TypeID         int32
	ComparatorSell decimal.Decimal
	ComparatorBuy  decimal.Decimal
}

// PriceAugmenter fetches external comparator prices for a batch of type
// ids. Failure is non-fatal to the pipeline: Fetch logs it and returns
// an empty map, leaving the comparator columns zero-valued.
type PriceAugmenter struct {
	client   *Client
	baseURL  string
	regionID int32
}

// NewPriceAugmenter builds a PriceAugmenter for the given region.
func NewPriceAugmenter(client *Client, baseURL string, regionID int32) *PriceAugmenter {
	return &PriceAugmenter{client: client, baseURL: baseURL, regionID: regionID}
}

// Fetch retrieves comparator prices for typeIDs in one batched request.
// On any failure it logs a warning and returns an empty result rather
// than an error, since comparator columns are optional enrichment.
func (a *PriceAugmenter) Fetch(ctx context.Context, typeIDs []int32) map[int32]ComparatorPrice {
	out := make(map[int32]ComparatorPrice, len(typeIDs))
	if len(typeIDs) == 0 {
		return out
	}

	fetchCtx, cancel := context.WithTimeout(ctx, augmentRequestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/aggregates/?region=%d&types=%s", a.baseURL, a.regionID, joinTypeIDs(typeIDs))
	resp, err := a.client.get(fetchCtx, url, "")
	if err != nil {
		logger.Warn("ESI", fmt.Sprintf("comparator fetch failed: %v", err))
		return out
	}
	if resp.status != 200 {
		logger.Warn("ESI", fmt.Sprintf("comparator fetch: status %d", resp.status))
		return out
	}

	var wire map[string]comparatorWire
	if err := decodeJSON(resp.body, &wire); err != nil {
		logger.Warn("ESI", fmt.Sprintf("comparator decode failed: %v", err))
		return out
	}

	for key, w := range wire {
		id, err := strconv.ParseInt(key, 10, 32)
		if err != nil {
			logger.Warn("ESI", fmt.Sprintf("comparator response: bad type id key %q", key))
			continue
		}
		typeID := int32(id)
		out[typeID] = ComparatorPrice{
			TypeID:         typeID,
			ComparatorSell: decimal.NewFromFloat(w.Sell),
			ComparatorBuy:  decimal.NewFromFloat(w.Buy),
		}
	}
	return out
}

func joinTypeIDs(typeIDs []int32) string {
	parts := make([]string, len(typeIDs))
	for i, id := range typeIDs {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}
