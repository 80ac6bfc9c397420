package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/search/pkg/search"
	insightstesting "github.com/malbeclabs/insights/utils/pkg/testing"
)

type fakeSearcher struct {
	got     search.Query
	results []search.Result
	err     error
}

func (f *fakeSearcher) Query(ctx context.Context, q search.Query) ([]search.Result, error) {
	f.got = q
	return f.results, f.err
}

type fakeSummarizer struct {
	got  store.Filter
	rows []store.SummaryRow
	err  error
}

func (f *fakeSummarizer) Summary(ctx context.Context, filter store.Filter) ([]store.SummaryRow, error) {
	f.got = filter
	return f.rows, f.err
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		ListenAddr:  "127.0.0.1:0",
		VersionInfo: VersionInfo{Version: "1.2.3", Commit: "abc", Date: "2026-01-01"},
		Searcher:    &fakeSearcher{},
		Summarizer:  &fakeSummarizer{},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(t.Context(), insightstesting.NewLogger(), cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestInsights_Server_Health(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())

	rec = do(t, s, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v VersionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, "1.2.3", v.Version)

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := newTestServer(t, func(cfg *Config) {
		cfg.Ready = func(context.Context) error { return errors.New("connection refused") }
	})
	rec = do(t, notReady, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestInsights_Server_Search(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: []search.Result{{
		Record: insight.Record{
			ID:           "r1",
			StrategyName: "by_vendor",
			SourceTable:  "trips",
			SummaryText:  "Group: Vendor: acme",
			RecordCount:  20,
			Embedding:    []float32{1, 0},
			Metadata:     map[string]any{"key_vendor": "acme"},
		},
		Similarity: 0.9,
		Distance:   0.1,
	}}}
	s := newTestServer(t, func(cfg *Config) { cfg.Searcher = searcher })

	rec := do(t, s, http.MethodPost, "/api/search", `{"query":"who tips most","top_k":3,"min_similarity":0.2,"table":"trips","strategy":"by_vendor"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, search.Query{Text: "who tips most", TopK: 3, MinSimilarity: 0.2, SourceTable: "trips", Strategy: "by_vendor"}, searcher.got)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	got := resp.Results[0]
	require.Equal(t, "r1", got.ID)
	require.Equal(t, "by_vendor", got.Strategy)
	require.Equal(t, 2, got.EmbeddingLen)
	require.InDelta(t, 0.9, got.Similarity, 1e-9)
	require.Equal(t, "acme", got.Metadata["key_vendor"])
}

func TestInsights_Server_SearchErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed body", `{"query":`, nil, http.StatusBadRequest},
		{"unknown field", `{"query":"q","k":1}`, nil, http.StatusBadRequest},
		{"invalid query", `{"query":""}`, search.ErrInvalidQuery, http.StatusBadRequest},
		{"dimension mismatch", `{"query":"q"}`, &search.DimensionMismatchError{RecordID: "x", Query: 2, Record: 3}, http.StatusConflict},
		{"backend failure", `{"query":"q"}`, errors.New("clickhouse down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, func(cfg *Config) { cfg.Searcher = &fakeSearcher{err: tt.err} })
			rec := do(t, s, http.MethodPost, "/api/search", tt.body)
			require.Equal(t, tt.status, rec.Code)
			var e errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			require.NotEmpty(t, e.Error)
		})
	}
}

func TestInsights_Server_Summary(t *testing.T) {
	t.Parallel()

	summarizer := &fakeSummarizer{rows: []store.SummaryRow{{SourceTable: "trips", StrategyName: "by_vendor", Records: 3, RecordsRepresented: 37}}}
	s := newTestServer(t, func(cfg *Config) { cfg.Summarizer = summarizer })

	rec := do(t, s, http.MethodGet, "/api/strategies/summary?table=trips", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, store.Filter{SourceTable: "trips"}, summarizer.got)

	var resp summaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Strategies, 1)
	require.Equal(t, uint64(37), resp.Strategies[0].RecordsRepresented)

	empty := newTestServer(t, nil)
	rec = do(t, empty, http.MethodGet, "/api/strategies/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"strategies":[]}`, rec.Body.String())

	failing := newTestServer(t, func(cfg *Config) { cfg.Summarizer = &fakeSummarizer{err: errors.New("boom")} })
	rec = do(t, failing, http.MethodGet, "/api/strategies/summary", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInsights_Server_RateLimited(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = rate.Limit(1)
		cfg.RateBurst = 1
	})

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/strategies/summary", "").Code)
	rec := do(t, s, http.MethodGet, "/api/strategies/summary", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	var e RateLimitError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	require.Equal(t, "rate_limit_exceeded", e.Error)

	// Health endpoints are not limited.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)
}

func TestInsights_Server_RateLimiter(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(t.Context(), rate.Limit(10), 2)
	ok, _ := rl.Allow("10.0.0.1")
	require.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	require.True(t, ok)
	ok, wait := rl.Allow("10.0.0.1")
	require.False(t, ok)
	require.Positive(t, wait)

	ok, _ = rl.Allow("10.0.0.2")
	require.True(t, ok, "each IP has its own bucket")

	time.Sleep(150 * time.Millisecond)
	ok, _ = rl.Allow("10.0.0.1")
	require.True(t, ok, "tokens refill")

	rl.sweep(time.Now().Add(time.Minute))
	require.Empty(t, rl.limiters)
}

func TestInsights_Server_Serve(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestInsights_Server_Config(t *testing.T) {
	t.Parallel()

	cfg := Config{ListenAddr: ":0", Searcher: &fakeSearcher{}, Summarizer: &fakeSummarizer{}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultRateBurst, cfg.RateBurst)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)

	require.Error(t, (&Config{Searcher: &fakeSearcher{}, Summarizer: &fakeSummarizer{}}).Validate())
	require.Error(t, (&Config{ListenAddr: ":0", Summarizer: &fakeSummarizer{}}).Validate())
}
