package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dkotenko/skinarb/internal/domain"
)

// ReportArchiver uploads the full ranked opportunity list of each completed
// scan tier to cold storage as JSONL, one object per run. The notifier only
// carries the top of the list; the archive keeps everything.
type ReportArchiver struct {
	writer domain.BlobWriter
}

// NewReportArchiver creates a ReportArchiver writing through the given blob
// writer.
func NewReportArchiver(writer domain.BlobWriter) *ReportArchiver {
	return &ReportArchiver{writer: writer}
}

// reportLine is one JSONL record of the archived report.
type reportLine struct {
	RunID          string  `json:"run_id"`
	Type           string  `json:"type"`
	ItemID         string  `json:"item_id"`
	Title          string  `json:"title"`
	GameID         string  `json:"game_id"`
	BuyPriceCents  int64   `json:"buy_price_cents"`
	SellPriceCents int64   `json:"sell_price_cents"`
	ProfitCents    int64   `json:"profit_cents"`
	ProfitPercent  float64 `json:"profit_percent"`
	CommissionRate float64 `json:"commission_rate"`
	LiquidityScore int     `json:"liquidity_score"`
}

// Archive serializes and uploads the result's opportunities. The object key
// is reports/YYYY-MM-DD/{runID}.jsonl. Empty results still produce an
// object so a day's run history is complete.
func (a *ReportArchiver) Archive(ctx context.Context, res domain.ScanResult) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, opp := range res.Opportunities {
		line := reportLine{
			RunID:          res.RunID,
			Type:           string(opp.Type),
			ItemID:         opp.ItemID,
			Title:          opp.Title,
			GameID:         opp.GameID,
			BuyPriceCents:  opp.BuyPriceCents,
			SellPriceCents: opp.SellPriceCents,
			ProfitCents:    opp.ProfitCents,
			ProfitPercent:  opp.ProfitPercent,
			CommissionRate: opp.CommissionRate,
			LiquidityScore: opp.LiquidityScore,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("s3blob: encode report line %s: %w", opp.ItemID, err)
		}
	}

	path := fmt.Sprintf("reports/%s/%s.jsonl", time.Now().UTC().Format("2006-01-02"), res.RunID)

	// Wide-open tiers can produce reports past the single-shot comfort zone;
	// hand those to the multipart uploader when the writer supports it.
	if mp, ok := a.writer.(multipartWriter); ok && int64(buf.Len()) >= minPartSize {
		if err := mp.PutMultipart(ctx, path, &buf, minPartSize); err != nil {
			return fmt.Errorf("s3blob: archive report %s: %w", res.RunID, err)
		}
		return nil
	}

	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive report %s: %w", res.RunID, err)
	}
	return nil
}

// multipartWriter is satisfied by Writer; other BlobWriter implementations
// fall back to Put.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
