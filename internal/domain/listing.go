// Package domain holds the scanner's core types, interfaces, and sentinel
// errors. All prices anywhere in this package are integers in minor currency
// units (cents); conversion to display units happens only in the notify layer.
package domain

// Listing is one marketplace offer as returned by a listings page. Immutable
// once fetched; it lives for a single scan pass, outliving it only inside a
// ScanCheckpoint.
type Listing struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
	GameID string `json:"game_id"`

	// PriceCents is the current ask price in minor units.
	PriceCents int64 `json:"price_cents"`
	// SuggestedPriceCents is the marketplace's reference price in minor
	// units, 0 when the upstream did not provide one.
	SuggestedPriceCents int64 `json:"suggested_price_cents,omitempty"`
	// RecentSales counts sales over the upstream's liquidity window, 0 when
	// unknown.
	RecentSales int `json:"recent_sales,omitempty"`
}

// HasReference reports whether the listing carries a usable reference price.
func (l Listing) HasReference() bool {
	return l.SuggestedPriceCents > 0
}
