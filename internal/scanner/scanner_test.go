package scanner

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotenko/skinarb/internal/breaker"
	"github.com/dkotenko/skinarb/internal/crypto"
	"github.com/dkotenko/skinarb/internal/domain"
	"github.com/dkotenko/skinarb/internal/marketapi"
	"github.com/dkotenko/skinarb/internal/ratelimit"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeCheckpoints struct {
	mu      sync.Mutex
	data    map[string]domain.ScanCheckpoint
	deleted []string
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{data: make(map[string]domain.ScanCheckpoint)}
}

func (f *fakeCheckpoints) Save(ctx context.Context, cp domain.ScanCheckpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[cp.ScanID] = cp
	return nil
}

func (f *fakeCheckpoints) Load(ctx context.Context, scanID string) (domain.ScanCheckpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.data[scanID]
	if !ok {
		return domain.ScanCheckpoint{}, domain.ErrNotFound
	}
	return cp, nil
}

func (f *fakeCheckpoints) Delete(ctx context.Context, scanID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, scanID)
	f.deleted = append(f.deleted, scanID)
	return nil
}

func (f *fakeCheckpoints) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeLocks struct {
	held bool
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeRuns struct {
	mu   sync.Mutex
	runs []domain.ScanRun
}

func (f *fakeRuns) Record(ctx context.Context, run domain.ScanRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRuns) last(t *testing.T) domain.ScanRun {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.runs)
	return f.runs[len(f.runs)-1]
}

// ---------------------------------------------------------------------------
// Marketplace stub
// ---------------------------------------------------------------------------

// marketStub serves two listings pages and an aggregate endpoint. The game ID
// "broken" always answers 404 so tests can force a client error; failCursor
// makes one page answer 503 until cleared; emptyFirst prepends an empty page
// that still carries a next cursor.
type marketStub struct {
	mu         sync.Mutex
	cursors    []string
	failCursor string
	emptyFirst bool
}

func (m *marketStub) setFailCursor(cursor string) {
	m.mu.Lock()
	m.failCursor = cursor
	m.mu.Unlock()
}

func (m *marketStub) handler() http.HandlerFunc {
	type money struct {
		USD string `json:"USD"`
	}
	type item struct {
		ItemID         string `json:"itemId"`
		Title          string `json:"title"`
		GameID         string `json:"gameId"`
		Price          money  `json:"price"`
		SuggestedPrice *money `json:"suggestedPrice,omitempty"`
		Extra          struct {
			RecentSales int `json:"recentSales"`
		} `json:"extra"`
	}

	akPage := func() []item {
		return []item{
			{ItemID: "i1", Title: "AK-47 | Redline", GameID: "a8db", Price: money{USD: "1000"}},
			{ItemID: "i2", Title: "AK-47 | Redline", GameID: "a8db", Price: money{USD: "2000"}},
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/exchange/v1/market/items":
			if r.URL.Query().Get("gameId") == "broken" {
				http.Error(w, "no such game", http.StatusNotFound)
				return
			}

			cursor := r.URL.Query().Get("cursor")
			m.mu.Lock()
			m.cursors = append(m.cursors, cursor)
			fail := m.failCursor != "" && cursor == m.failCursor
			emptyFirst := m.emptyFirst
			m.mu.Unlock()

			if fail {
				http.Error(w, "upstream degraded", http.StatusServiceUnavailable)
				return
			}

			var page struct {
				Cursor  string `json:"cursor"`
				Objects []item `json:"objects"`
			}
			switch cursor {
			case "":
				if emptyFirst {
					page.Cursor = "c1"
					break
				}
				page.Cursor = "c2"
				page.Objects = akPage()
			case "c1":
				page.Cursor = "c2"
				page.Objects = akPage()
			case "c2":
				it := item{ItemID: "i3", Title: "Glock-18 | Fade", GameID: "a8db",
					Price: money{USD: "300"}, SuggestedPrice: &money{USD: "500"}}
				it.Extra.RecentSales = 2
				page.Objects = []item{it}
			}
			json.NewEncoder(w).Encode(page)

		case "/price-aggregator/v1/aggregated-prices":
			w.Write([]byte(`{
				"aggregatedTitles": [
					{"marketHashName": "AK-47 | Redline", "offers": {"bestPrice": "1500", "count": 5}},
					{"marketHashName": "Glock-18 | Fade"}
				]
			}`))

		default:
			http.NotFound(w, r)
		}
	}
}

func (m *marketStub) seenCursors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cursors...)
}

func newTestScanner(t *testing.T, baseURL string, cps domain.CheckpointStore, locks domain.LockManager, runs domain.ScanRunStore) *Scanner {
	t.Helper()
	api := marketapi.New(
		marketapi.Config{
			BaseURL:     baseURL,
			Timeout:     2 * time.Second,
			MaxAttempts: 2,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
		&crypto.HMACAuth{PublicKey: "pub", SecretKey: "sec"},
		ratelimit.New(1000, time.Second),
		breaker.New(breaker.Config{FailureThreshold: 100}),
		nil,
		slog.Default(),
	)
	return New(api, cps, locks, runs, Config{TierConcurrency: 1}, slog.Default())
}

func tierParams() domain.ScanParams {
	return domain.ScanParams{
		GameID:         "a8db",
		PriceFromCents: 100,
		PriceToCents:   5000,
		CommissionRate: 0.07,
		MinProfitCents: 50,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestScanner_RunCompletes(t *testing.T) {
	stub := &marketStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	cps := newFakeCheckpoints()
	runs := &fakeRuns{}
	s := newTestScanner(t, srv.URL, cps, &fakeLocks{}, runs)

	res, err := s.Run(context.Background(), tierParams())
	require.NoError(t, err)

	assert.Equal(t, domain.ScanCompleted, res.State)
	assert.Equal(t, 3, res.ItemsScanned)
	assert.Zero(t, res.Failed)

	// i1 vs aggregate (profit 395), i3 vs suggested price (profit 165), and
	// the intra-market AK pair (buy 1000, sell 1999). i2 is underwater.
	require.Len(t, res.Opportunities, 3)

	// Ranked by profit percent: intra pair 86%, i3 55%, i1 39.5%.
	assert.Equal(t, domain.OppIntraMarket, res.Opportunities[0].Type)
	assert.Equal(t, int64(1999), res.Opportunities[0].SellPriceCents)
	assert.Equal(t, "i3", res.Opportunities[1].ItemID)
	assert.Equal(t, "i1", res.Opportunities[2].ItemID)

	// Completed runs drop their checkpoint and record history.
	assert.Contains(t, cps.deleted, tierParams().Key())
	run := runs.last(t)
	assert.Equal(t, domain.ScanCompleted, run.State)
	assert.Equal(t, 3, run.ItemsScanned)
	assert.Equal(t, 3, run.Opportunities)
	assert.Empty(t, run.Error)
}

func TestScanner_ResumesFromCheckpoint(t *testing.T) {
	stub := &marketStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	params := tierParams()
	cps := newFakeCheckpoints()
	cps.data[params.Key()] = domain.ScanCheckpoint{
		ScanID:         params.Key(),
		Cursor:         "c2",
		ItemsProcessed: 2,
		Params:         params,
		Listings: []domain.Listing{
			{ItemID: "i1", Title: "AK-47 | Redline", GameID: "a8db", PriceCents: 1000},
			{ItemID: "i2", Title: "AK-47 | Redline", GameID: "a8db", PriceCents: 2000},
		},
		Opportunities: []domain.Opportunity{{
			Type:           domain.OppReferencePrice,
			ItemID:         "i1",
			Title:          "AK-47 | Redline",
			GameID:         "a8db",
			BuyPriceCents:  1000,
			SellPriceCents: 1500,
			ProfitCents:    395,
			ProfitPercent:  39.5,
			CommissionRate: 0.07,
			LiquidityScore: 5,
		}},
		UpdatedAt: time.Now(),
	}

	s := newTestScanner(t, srv.URL, cps, &fakeLocks{}, nil)
	res, err := s.Run(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, domain.ScanCompleted, res.State)
	assert.Equal(t, 3, res.ItemsScanned, "resumed count plus the final page")

	cursors := stub.seenCursors()
	require.NotEmpty(t, cursors)
	assert.Equal(t, "c2", cursors[0], "pagination must restart at the checkpointed cursor")

	// The restored partials feed the final computation: the pre-interruption
	// reference candidate and the cross-page AK pair both survive the resume.
	require.Len(t, res.Opportunities, 3)
	assert.Equal(t, domain.OppIntraMarket, res.Opportunities[0].Type)
	assert.Equal(t, int64(1999), res.Opportunities[0].SellPriceCents)
	assert.Equal(t, "i3", res.Opportunities[1].ItemID)
	assert.Equal(t, "i1", res.Opportunities[2].ItemID)
}

func TestScanner_ResumeMatchesUninterruptedRun(t *testing.T) {
	baselineStub := &marketStub{}
	baselineSrv := httptest.NewServer(baselineStub.handler())
	defer baselineSrv.Close()

	baseline, err := newTestScanner(t, baselineSrv.URL, nil, nil, nil).
		Run(context.Background(), tierParams())
	require.NoError(t, err)
	require.Len(t, baseline.Opportunities, 3)

	// The same tier, interrupted after the first page by an upstream outage.
	stub := &marketStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	params := tierParams()
	cps := newFakeCheckpoints()
	s := newTestScanner(t, srv.URL, cps, &fakeLocks{}, nil)

	stub.setFailCursor("c2")
	res, err := s.Run(context.Background(), params)
	require.Error(t, err)
	require.Equal(t, domain.ScanAborted, res.State)

	cp, ok := cps.data[params.Key()]
	require.True(t, ok, "the aborted run must leave its checkpoint behind")
	assert.Equal(t, "c2", cp.Cursor)
	assert.Len(t, cp.Listings, 2)
	assert.Len(t, cp.Opportunities, 1)

	// The upstream recovers; the resumed run must emit exactly what an
	// uninterrupted one would have.
	stub.setFailCursor("")
	res, err = s.Run(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, domain.ScanCompleted, res.State)
	assert.Equal(t, 3, res.ItemsScanned)
	assert.Equal(t, baseline.Opportunities, res.Opportunities)

	cursors := stub.seenCursors()
	assert.Equal(t, "c2", cursors[len(cursors)-1], "page one must not be refetched on resume")
}

func TestScanner_EmptyPageMidSequenceContinues(t *testing.T) {
	stub := &marketStub{emptyFirst: true}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	s := newTestScanner(t, srv.URL, nil, nil, nil)
	res, err := s.Run(context.Background(), tierParams())
	require.NoError(t, err)

	assert.Equal(t, domain.ScanCompleted, res.State)
	assert.Equal(t, 3, res.ItemsScanned, "pagination must follow the cursor past an empty page")
	require.Len(t, res.Opportunities, 3)
	assert.Equal(t, []string{"", "c1", "c2"}, stub.seenCursors())
}

func TestScanner_ClientErrorAbortsTier(t *testing.T) {
	stub := &marketStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	params := tierParams()
	params.GameID = "broken"

	cps := newFakeCheckpoints()
	runs := &fakeRuns{}
	s := newTestScanner(t, srv.URL, cps, &fakeLocks{}, runs)

	res, err := s.Run(context.Background(), params)
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindClientError, kind)
	assert.Equal(t, domain.ScanAborted, res.State)

	run := runs.last(t)
	assert.Equal(t, domain.ScanAborted, run.State)
	assert.NotEmpty(t, run.Error)
	assert.Empty(t, cps.deleted, "aborted runs keep their checkpoint")
}

func TestScanner_LockHeldAborts(t *testing.T) {
	stub := &marketStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	s := newTestScanner(t, srv.URL, newFakeCheckpoints(), &fakeLocks{held: true}, nil)
	res, err := s.Run(context.Background(), tierParams())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, domain.ScanAborted, res.State)
	assert.Empty(t, stub.seenCursors(), "no pagination while another run holds the lock")
}

func TestScanner_RunAllIsolatesTierFailures(t *testing.T) {
	stub := &marketStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	good := tierParams()
	bad := tierParams()
	bad.GameID = "broken"

	s := newTestScanner(t, srv.URL, newFakeCheckpoints(), &fakeLocks{}, nil)
	outcomes := s.RunAll(context.Background(), []domain.ScanParams{bad, good})

	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.Equal(t, domain.ScanAborted, outcomes[0].Result.State)

	assert.NoError(t, outcomes[1].Err, "sibling tier unaffected")
	assert.Equal(t, domain.ScanCompleted, outcomes[1].Result.State)
	assert.Equal(t, 3, outcomes[1].Result.ItemsScanned)
}

func TestScanner_MaxPagesCapsPagination(t *testing.T) {
	stub := &marketStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	params := tierParams()
	params.MaxPages = 1

	s := newTestScanner(t, srv.URL, nil, nil, nil)
	res, err := s.Run(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, domain.ScanCompleted, res.State)
	assert.Equal(t, 2, res.ItemsScanned, "only the first page")
	assert.Len(t, stub.seenCursors(), 1)
}
