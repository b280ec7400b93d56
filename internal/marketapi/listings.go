package marketapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	marketItemsPath      = "/exchange/v1/market/items"
	aggregatedPricesPath = "/price-aggregator/v1/aggregated-prices"

	// pageSize is the upstream's maximum page size.
	pageSize = 100
)

// ListItemsParams select one listings page.
type ListItemsParams struct {
	GameID         string
	PriceFromCents int64
	PriceToCents   int64
	Cursor         string
}

// ListItems fetches one cursor page of market listings within the given
// price bounds, cheapest first. Pages are cached with the short listings TTL
// since prices move quickly.
func (c *Client) ListItems(ctx context.Context, p ListItemsParams) (ListingsPage, error) {
	q := url.Values{}
	q.Set("gameId", p.GameID)
	q.Set("priceFrom", strconv.FormatInt(p.PriceFromCents, 10))
	q.Set("priceTo", strconv.FormatInt(p.PriceToCents, 10))
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("orderBy", "price")
	q.Set("orderDir", "asc")
	q.Set("currency", "USD")
	if p.Cursor != "" {
		q.Set("cursor", p.Cursor)
	}

	raw, err := c.Do(ctx, RequestSpec{
		Method:   http.MethodGet,
		Path:     marketItemsPath,
		Query:    q,
		CacheTTL: c.cfg.ListingsTTL,
	})
	if err != nil {
		return ListingsPage{}, err
	}

	page, err := decodeListingsPage(raw)
	if err != nil {
		return ListingsPage{}, fmt.Errorf("marketapi: list items: %w", err)
	}
	return page, nil
}

// AggregatedPrices fetches the aggregated best-offer price for up to 100
// item titles. Aggregates move slowly, so they use the long TTL.
func (c *Client) AggregatedPrices(ctx context.Context, gameID string, titles []string) (map[string]ReferencePrice, error) {
	if len(titles) == 0 {
		return map[string]ReferencePrice{}, nil
	}

	q := url.Values{}
	q.Set("gameId", gameID)
	q.Set("currency", "USD")
	q.Set("titles", strings.Join(titles, ","))

	raw, err := c.Do(ctx, RequestSpec{
		Method:   http.MethodGet,
		Path:     aggregatedPricesPath,
		Query:    q,
		CacheTTL: c.cfg.AggregatesTTL,
	})
	if err != nil {
		return nil, err
	}

	prices, err := decodeAggregatedPrices(raw)
	if err != nil {
		return nil, fmt.Errorf("marketapi: aggregated prices: %w", err)
	}
	return prices, nil
}
