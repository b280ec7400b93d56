package notify

import (
	"fmt"
	"strings"

	"github.com/dkotenko/skinarb/internal/domain"
)

// Event types emitted by the scan loop.
const (
	EventOpportunities = "opportunities"
	EventScanFailed    = "scan_failed"
)

// FormatScanResult renders a completed tier's top opportunities as a chat
// message. This is the only place prices leave minor units.
func FormatScanResult(res domain.ScanResult, topN int) (title, message string) {
	p := res.Params
	title = fmt.Sprintf("Scan %s $%s-$%s: %d opportunities",
		p.GameID, dollars(p.PriceFromCents), dollars(p.PriceToCents), len(res.Opportunities))

	if len(res.Opportunities) == 0 {
		return title, fmt.Sprintf("Scanned %d listings, nothing above thresholds.", res.ItemsScanned)
	}

	n := topN
	if n <= 0 || n > len(res.Opportunities) {
		n = len(res.Opportunities)
	}

	var b strings.Builder
	for i, opp := range res.Opportunities[:n] {
		fmt.Fprintf(&b, "%d. %s\n   buy $%s → sell $%s | +$%s (%.1f%%)",
			i+1, opp.Title,
			dollars(opp.BuyPriceCents), dollars(opp.SellPriceCents),
			dollars(opp.ProfitCents), opp.ProfitPercent,
		)
		if opp.LiquidityScore > 0 {
			fmt.Fprintf(&b, " | %d recent sales", opp.LiquidityScore)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n%d listings scanned, %d failed.", res.ItemsScanned, res.Failed)
	return title, b.String()
}

// dollars renders minor units as a major-unit decimal string.
func dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
