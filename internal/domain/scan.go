package domain

import (
	"strconv"
	"time"
)

// ScanState tracks where a scan run is in its lifecycle.
type ScanState string

const (
	ScanStarting   ScanState = "starting"
	ScanPaginating ScanState = "paginating"
	ScanComputing  ScanState = "computing"
	ScanCompleted  ScanState = "completed"
	ScanAborted    ScanState = "aborted"
)

// ScanParams are the static parameters of one scan tier. They are fixed at
// scan start; there is no mid-scan reconfiguration.
type ScanParams struct {
	GameID string `json:"game_id"`
	// PriceFromCents and PriceToCents bound the tier in minor units.
	PriceFromCents int64 `json:"price_from_cents"`
	PriceToCents   int64 `json:"price_to_cents"`
	// CommissionRate is the sell-side marketplace fee, e.g. 0.07.
	CommissionRate float64 `json:"commission_rate"`
	// MinProfitCents and MinProfitPercent filter candidates.
	MinProfitCents   int64   `json:"min_profit_cents"`
	MinProfitPercent float64 `json:"min_profit_percent"`
	// MaxPages caps pagination; 0 means no cap.
	MaxPages int `json:"max_pages"`
}

// Key returns a stable identifier for the tier, used as the scan ID so an
// interrupted run of the same tier resumes its own checkpoint.
func (p ScanParams) Key() string {
	return p.GameID + ":" +
		strconv.FormatInt(p.PriceFromCents, 10) + "-" +
		strconv.FormatInt(p.PriceToCents, 10)
}

// ScanCheckpoint is the durable resume point of an in-flight scan. It records
// the cursor of the next unfetched page, the count of items fully processed
// before it, and the partial results gathered from those pages. Carrying the
// partials means a resumed run ends with the same opportunity set an
// uninterrupted run would have produced: pages before the cursor are neither
// refetched nor lost.
type ScanCheckpoint struct {
	ScanID         string     `json:"scan_id"`
	Cursor         string     `json:"cursor"`
	ItemsProcessed int        `json:"items_processed"`
	Params         ScanParams `json:"params"`

	// Listings are the raw listings of every fully processed page; the
	// intra-market pass at the end of the scan pairs across all of them.
	Listings []Listing `json:"listings,omitempty"`
	// Opportunities are the reference-price candidates already derived from
	// those listings.
	Opportunities []Opportunity `json:"opportunities,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ScanRun summarizes one completed or aborted tier run for operator history.
type ScanRun struct {
	ID            string
	State         ScanState
	Params        ScanParams
	ItemsScanned  int
	Opportunities int
	StartedAt     time.Time
	FinishedAt    time.Time
	Error         string
}

// ScanResult is what a single tier run hands to the notifier and archiver.
type ScanResult struct {
	RunID         string
	Params        ScanParams
	State         ScanState
	ItemsScanned  int
	Failed        int
	Opportunities []Opportunity
}
