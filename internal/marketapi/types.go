package marketapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dkotenko/skinarb/internal/domain"
)

// RequestSpec describes one marketplace API call. It is the unit the cache
// key and the signature input are derived from.
type RequestSpec struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte

	// CacheTTL enables response caching for this request when positive.
	CacheTTL time.Duration
}

// PathWithQuery returns the request path with the encoded query appended.
// url.Values.Encode sorts keys, so the result is deterministic for equal
// specs.
func (s RequestSpec) PathWithQuery() string {
	if len(s.Query) == 0 {
		return s.Path
	}
	return s.Path + "?" + s.Query.Encode()
}

// CacheKey returns a stable hash of the normalized spec (method + path +
// sorted query). Bodies are not part of the key; only GET endpoints are
// cached.
func (s RequestSpec) CacheKey() string {
	h := sha256.Sum256([]byte(s.Method + "\n" + s.PathWithQuery()))
	return "page:" + hex.EncodeToString(h[:])
}

// ---------------------------------------------------------------------------
// Wire types. Each endpoint gets an explicit struct and a strict decoder:
// a shape mismatch is an error, never a silently zeroed field.
// ---------------------------------------------------------------------------

// ListingsPage is a decoded page of market listings plus the cursor of the
// next page. An empty cursor means the upstream has no more pages.
type ListingsPage struct {
	Cursor   string
	Listings []domain.Listing
}

// ReferencePrice is the aggregated best-offer view for one item title.
type ReferencePrice struct {
	BestOfferCents int64
	OfferCount     int
}

type wireMoney struct {
	USD string `json:"USD"`
}

type wireItem struct {
	ItemID         string     `json:"itemId"`
	Title          string     `json:"title"`
	GameID         string     `json:"gameId"`
	Price          *wireMoney `json:"price"`
	SuggestedPrice *wireMoney `json:"suggestedPrice"`
	Extra          struct {
		RecentSales int `json:"recentSales"`
	} `json:"extra"`
}

type wireListingsPage struct {
	Cursor  string     `json:"cursor"`
	Objects []wireItem `json:"objects"`
}

type wireAggregatedTitle struct {
	Title  string `json:"marketHashName"`
	Offers *struct {
		BestPrice string `json:"bestPrice"`
		Count     int    `json:"count"`
	} `json:"offers"`
}

type wireAggregatedPage struct {
	Titles []wireAggregatedTitle `json:"aggregatedTitles"`
}

// decodeListingsPage decodes a raw /market/items payload into domain
// listings. Items missing an ID or a parseable price fail the whole decode;
// a broken page must not half-succeed into the profit computation.
func decodeListingsPage(raw []byte) (ListingsPage, error) {
	var page wireListingsPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return ListingsPage{}, fmt.Errorf("decode listings page: %w: %w", domain.ErrBadPayload, err)
	}

	out := ListingsPage{
		Cursor:   page.Cursor,
		Listings: make([]domain.Listing, 0, len(page.Objects)),
	}
	for i, it := range page.Objects {
		if it.ItemID == "" {
			return ListingsPage{}, fmt.Errorf("decode listings page: object %d: missing itemId: %w", i, domain.ErrBadPayload)
		}
		if it.Price == nil {
			return ListingsPage{}, fmt.Errorf("decode listings page: item %s: missing price: %w", it.ItemID, domain.ErrBadPayload)
		}
		priceCents, err := parseCents(it.Price.USD)
		if err != nil {
			return ListingsPage{}, fmt.Errorf("decode listings page: item %s: price: %w", it.ItemID, err)
		}

		var suggestedCents int64
		if it.SuggestedPrice != nil && it.SuggestedPrice.USD != "" {
			suggestedCents, err = parseCents(it.SuggestedPrice.USD)
			if err != nil {
				return ListingsPage{}, fmt.Errorf("decode listings page: item %s: suggested price: %w", it.ItemID, err)
			}
		}

		out.Listings = append(out.Listings, domain.Listing{
			ItemID:              it.ItemID,
			Title:               it.Title,
			GameID:              it.GameID,
			PriceCents:          priceCents,
			SuggestedPriceCents: suggestedCents,
			RecentSales:         it.Extra.RecentSales,
		})
	}
	return out, nil
}

// decodeAggregatedPrices decodes a /aggregated-prices payload into a map
// keyed by item title. Titles without an offers block are skipped: the
// upstream omits it when nothing is on sale.
func decodeAggregatedPrices(raw []byte) (map[string]ReferencePrice, error) {
	var page wireAggregatedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode aggregated prices: %w: %w", domain.ErrBadPayload, err)
	}

	out := make(map[string]ReferencePrice, len(page.Titles))
	for i, t := range page.Titles {
		if t.Title == "" {
			return nil, fmt.Errorf("decode aggregated prices: entry %d: missing marketHashName: %w", i, domain.ErrBadPayload)
		}
		if t.Offers == nil || t.Offers.BestPrice == "" {
			continue
		}
		cents, err := parseCents(t.Offers.BestPrice)
		if err != nil {
			return nil, fmt.Errorf("decode aggregated prices: %s: %w", t.Title, err)
		}
		out[t.Title] = ReferencePrice{
			BestOfferCents: cents,
			OfferCount:     t.Offers.Count,
		}
	}
	return out, nil
}

// parseCents parses an upstream money string, already denominated in minor
// units, into int64.
func parseCents(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, domain.ErrBadPayload)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative amount %q: %w", s, domain.ErrBadPayload)
	}
	return n, nil
}
