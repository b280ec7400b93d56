package domain

import "sort"

// OpportunityType distinguishes how the sell side of an opportunity was
// obtained.
type OpportunityType string

const (
	// OppIntraMarket pairs two listings of the same item inside the market.
	OppIntraMarket OpportunityType = "intra_market"
	// OppReferencePrice compares a listing against the marketplace's
	// suggested price.
	OppReferencePrice OpportunityType = "reference_price"
)

// Opportunity is a profitable buy/sell spread derived from a listing pair or
// a listing against a reference price. Never mutated after creation.
type Opportunity struct {
	Type   OpportunityType `json:"type"`
	ItemID string          `json:"item_id"`
	Title  string          `json:"title"`
	GameID string          `json:"game_id"`

	BuyPriceCents  int64 `json:"buy_price_cents"`
	SellPriceCents int64 `json:"sell_price_cents"`
	// ProfitCents = sell - buy - commission(sell), rounded down.
	ProfitCents int64 `json:"profit_cents"`
	// ProfitPercent is profit relative to the buy price, e.g. 39.5.
	ProfitPercent float64 `json:"profit_percent"`
	// CommissionRate is the marketplace fee applied to the sell side, e.g. 0.07.
	CommissionRate float64 `json:"commission_rate"`
	// LiquidityScore is the recent-sale count of the sell side, 0 if unknown.
	LiquidityScore int `json:"liquidity_score,omitempty"`
}

// Profit computes the net profit in minor units for the given prices and
// commission rate. The commission is charged on the sell side and truncated
// toward zero, matching how the marketplace rounds fees.
func Profit(buyCents, sellCents int64, commissionRate float64) int64 {
	fee := int64(float64(sellCents) * commissionRate)
	return sellCents - buyCents - fee
}

// SortOpportunities orders opportunities by profit percentage descending,
// breaking ties by absolute profit descending. Sorting is stable so equal
// candidates keep their discovery order.
func SortOpportunities(opps []Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].ProfitPercent != opps[j].ProfitPercent {
			return opps[i].ProfitPercent > opps[j].ProfitPercent
		}
		return opps[i].ProfitCents > opps[j].ProfitCents
	})
}
