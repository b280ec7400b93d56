package scanner

import (
	"sort"

	"github.com/dkotenko/skinarb/internal/domain"
)

// buildReferenceOpportunity evaluates one listing against a sell-side
// reference price (aggregated best offer, falling back to the marketplace's
// suggested price). It returns ok=false when the candidate misses the
// tier's profit thresholds or no reference exists.
func buildReferenceOpportunity(l domain.Listing, ref marketRef, p domain.ScanParams) (domain.Opportunity, bool) {
	sell := ref.bestOfferCents
	liquidity := ref.offerCount
	if sell == 0 && l.HasReference() {
		sell = l.SuggestedPriceCents
		liquidity = l.RecentSales
	}
	if sell == 0 {
		return domain.Opportunity{}, false
	}

	return makeOpportunity(domain.OppReferencePrice, l, l.PriceCents, sell, liquidity, p)
}

// buildIntraMarketOpportunities pairs listings of the same title inside the
// scanned tier: buy the cheapest, sell by undercutting the second-cheapest
// by one minor unit. At least two listings of a title are required.
func buildIntraMarketOpportunities(listings []domain.Listing, p domain.ScanParams) []domain.Opportunity {
	byTitle := make(map[string][]domain.Listing)
	for _, l := range listings {
		if l.Title == "" {
			continue
		}
		byTitle[l.Title] = append(byTitle[l.Title], l)
	}

	var opps []domain.Opportunity
	for _, group := range byTitle {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].PriceCents < group[j].PriceCents
		})

		buy := group[0]
		sell := group[1].PriceCents - 1
		if sell <= buy.PriceCents {
			continue
		}

		liquidity := buy.RecentSales
		if opp, ok := makeOpportunity(domain.OppIntraMarket, buy, buy.PriceCents, sell, liquidity, p); ok {
			opps = append(opps, opp)
		}
	}
	return opps
}

func makeOpportunity(typ domain.OpportunityType, l domain.Listing, buy, sell int64, liquidity int, p domain.ScanParams) (domain.Opportunity, bool) {
	if buy <= 0 {
		return domain.Opportunity{}, false
	}

	profit := domain.Profit(buy, sell, p.CommissionRate)
	if profit < p.MinProfitCents {
		return domain.Opportunity{}, false
	}

	percent := float64(profit) / float64(buy) * 100
	if percent < p.MinProfitPercent {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		Type:           typ,
		ItemID:         l.ItemID,
		Title:          l.Title,
		GameID:         l.GameID,
		BuyPriceCents:  buy,
		SellPriceCents: sell,
		ProfitCents:    profit,
		ProfitPercent:  percent,
		CommissionRate: p.CommissionRate,
		LiquidityScore: liquidity,
	}, true
}
