package scraper

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-products/checkpoint"
	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/pipeline"
	"github.com/jarcoal/httpmock"
)

var proxyURLRe = regexp.MustCompile(`^http://proxy\.test/scrape`)

const productPage = `<html><body>
<span id="productTitle">Test Product</span>
<div id="corePrice_feature_div"><span class="a-offscreen">$20.00</span></div>
<img id="landingImage" src="https://m.media-amazon.com/images/I/71abcdefgh._AC_SX425_.jpg">
<div id="altImages">
	<span class="a-button-thumbnail"><img src="https://m.media-amazon.com/images/I/81ijklmnop._AC_US40_.jpg"></span>
</div>
</body></html>`

const pricelessPage = `<html><body>
<span id="productTitle">Ghost Product</span>
<div>Currently unavailable.</div>
</body></html>`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.InputFile = filepath.Join(dir, "asins.csv")
	cfg.OutputFile = filepath.Join(dir, "products_export.csv")
	cfg.CheckpointFile = filepath.Join(dir, "fetched_asins.txt")
	cfg.APIKey = "test-key"
	cfg.ProxyURL = "http://proxy.test/scrape"
	cfg.PriceFormula = "x*1.5"
	cfg.Concurrency = 1
	cfg.Timeout = 5 * time.Second
	cfg.CacheSize = 16
	return cfg
}

func writeInput(t *testing.T, cfg *config.Config, ids ...string) {
	t.Helper()
	if err := os.WriteFile(cfg.InputFile, []byte(strings.Join(ids, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
}

func newTestScraper(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) (*Scraper, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.Open(cfg.CheckpointFile)
	if err != nil {
		t.Fatalf("open checkpoint: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s, err := NewScraper(cfg, store)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.Fetcher().WithTransport(transport)
	return s, store
}

func runOnce(t *testing.T, cfg *config.Config, s *Scraper, store *checkpoint.Store) (*pipeline.Pipeline, error) {
	t.Helper()
	writer, err := pipeline.NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	t.Cleanup(func() { writer.Close() })

	p := pipeline.NewPipeline(writer, store)
	_, runErr := s.Run(context.Background(), p)
	if err := p.Close(); err != nil {
		t.Fatalf("pipeline close: %v", err)
	}
	return p, runErr
}

func columnIdx(t *testing.T, header []string, name string) int {
	t.Helper()
	for i, col := range header {
		if col == name {
			return i
		}
	}
	t.Fatalf("column %q not in header", name)
	return -1
}

func readOutput(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return records
}

func TestFetcherReturnsBody(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg, "B001")

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", proxyURLRe, httpmock.NewStringResponder(200, productPage))

	s, _ := newTestScraper(t, cfg, transport)

	body, err := s.Fetcher().Fetch(context.Background(), "B001")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(body, "Test Product") {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestFetcherErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{name: "server error", responder: httpmock.NewStringResponder(500, "boom")},
		{name: "not found", responder: httpmock.NewStringResponder(404, "gone")},
		{name: "empty body", responder: httpmock.NewStringResponder(200, "")},
		{name: "connection failure", responder: httpmock.NewErrorResponder(errors.New("connection refused"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			writeInput(t, cfg, "B001")

			transport := httpmock.NewMockTransport()
			transport.RegisterRegexpResponder("GET", proxyURLRe, tt.responder)

			s, _ := newTestScraper(t, cfg, transport)

			_, err := s.Fetcher().Fetch(context.Background(), "B001")
			if err == nil {
				t.Fatalf("expected fetch error")
			}
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("error %T is not *FetchError", err)
			}
			if fetchErr.ASIN != "B001" {
				t.Fatalf("error asin = %q", fetchErr.ASIN)
			}
		})
	}
}

func TestFetcherCachesPages(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg, "B001")

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", proxyURLRe, httpmock.NewStringResponder(200, productPage))

	s, _ := newTestScraper(t, cfg, transport)

	for i := 0; i < 3; i++ {
		if _, err := s.Fetcher().Fetch(context.Background(), "B001"); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if calls := transport.GetTotalCallCount(); calls != 1 {
		t.Fatalf("upstream calls = %d, want 1 (cache)", calls)
	}
}

func TestRunExportsAndCheckpoints(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg, "B002", "B001", "B001")

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", proxyURLRe, httpmock.NewStringResponder(200, productPage))

	s, store := newTestScraper(t, cfg, transport)
	_, err := runOnce(t, cfg, s, store)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, id := range []string{"B001", "B002"} {
		if !store.IsDone(id) {
			t.Fatalf("%s not checkpointed", id)
		}
	}

	records := readOutput(t, cfg.OutputFile)
	// Header plus, per item, one primary row and one continuation row.
	if len(records) != 1+4 {
		t.Fatalf("records = %d, want 5", len(records))
	}
	// Price formula x*1.5 over $20.00.
	if price := records[1][columnIdx(t, records[0], "Variant Price")]; price != "30.00" {
		t.Fatalf("variant price = %q, want 30.00", price)
	}
	if cost := records[1][columnIdx(t, records[0], "Cost Price")]; cost != "20.00" {
		t.Fatalf("cost price = %q, want 20.00", cost)
	}
}

func TestRunIsIdempotentAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg, "B001", "B002")

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", proxyURLRe, httpmock.NewStringResponder(200, productPage))

	s, store := newTestScraper(t, cfg, transport)
	if _, err := runOnce(t, cfg, s, store); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstRecords := readOutput(t, cfg.OutputFile)

	// Second run over the same input and checkpoint: empty target set,
	// nothing refetched, nothing appended.
	s2, err := NewScraper(cfg, store)
	if err != nil {
		t.Fatalf("second scraper: %v", err)
	}
	transport2 := httpmock.NewMockTransport()
	transport2.RegisterRegexpResponder("GET", proxyURLRe, httpmock.NewStringResponder(200, productPage))
	s2.Fetcher().WithTransport(transport2)

	if _, err := runOnce(t, cfg, s2, store); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if calls := transport2.GetTotalCallCount(); calls != 0 {
		t.Fatalf("second run fetched %d pages, want 0", calls)
	}

	secondRecords := readOutput(t, cfg.OutputFile)
	if len(secondRecords) != len(firstRecords) {
		t.Fatalf("records changed across idempotent rerun: %d != %d", len(secondRecords), len(firstRecords))
	}
}

func TestRunChecksFailuresIntoCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg, "B001")

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", proxyURLRe, httpmock.NewStringResponder(500, "boom"))

	s, store := newTestScraper(t, cfg, transport)
	writer, err := pipeline.NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()

	p := pipeline.NewPipeline(writer, store)
	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("pipeline close: %v", err)
	}

	if !store.IsDone("B001") {
		t.Fatalf("failed item not checkpointed")
	}
	if result.ErrorCount != 1 {
		t.Fatalf("error count = %d, want 1", result.ErrorCount)
	}

	records := readOutput(t, cfg.OutputFile)
	if len(records) != 1 {
		t.Fatalf("records = %d, want header only", len(records))
	}
}

func TestRunPricelessItemSkipsRows(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg, "B001")

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", proxyURLRe, httpmock.NewStringResponder(200, pricelessPage))

	s, store := newTestScraper(t, cfg, transport)
	writer, err := pipeline.NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()

	p := pipeline.NewPipeline(writer, store)
	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("pipeline close: %v", err)
	}

	if !store.IsDone("B001") {
		t.Fatalf("priceless item not checkpointed")
	}
	if result.NoPriceSkips != 1 {
		t.Fatalf("skips = %d, want 1", result.NoPriceSkips)
	}
	if records := readOutput(t, cfg.OutputFile); len(records) != 1 {
		t.Fatalf("records = %d, want header only", len(records))
	}
}

// slowWriter stalls every write so results are still queued when the
// workers finish.
type slowWriter struct {
	mu    sync.Mutex
	delay time.Duration
	items int
}

func (w *slowWriter) WriteItem(_ *models.Product, _ [][]string) error {
	time.Sleep(w.delay)
	w.mu.Lock()
	w.items++
	w.mu.Unlock()
	return nil
}

func (w *slowWriter) Close() error    { return nil }
func (w *slowWriter) Validate() error { return nil }

func (w *slowWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.items
}

func TestRunCountsCoverDrainedResults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Concurrency = 3
	writeInput(t, cfg, "B001", "B002", "B003")

	transport := httpmock.NewMockTransport()
	transport.RegisterRegexpResponder("GET", proxyURLRe, httpmock.NewStringResponder(200, productPage))

	s, store := newTestScraper(t, cfg, transport)
	writer := &slowWriter{delay: 100 * time.Millisecond}
	p := pipeline.NewPipeline(writer, store)

	result, err := s.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("pipeline close: %v", err)
	}

	if got := writer.count(); got != 3 {
		t.Fatalf("written items = %d, want 3", got)
	}
	if result.Processed != 3 || result.Succeeded != 3 {
		t.Fatalf("processed/succeeded = %d/%d, want 3/3", result.Processed, result.Succeeded)
	}
}

func TestRunMissingInputIsFatal(t *testing.T) {
	cfg := testConfig(t)
	// No input file written.

	transport := httpmock.NewMockTransport()
	s, store := newTestScraper(t, cfg, transport)

	writer, err := pipeline.NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()

	p := pipeline.NewPipeline(writer, store)
	defer p.Close()

	if _, err := s.Run(context.Background(), p); err == nil {
		t.Fatalf("expected load error for missing input")
	}
}

func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "forbidden", err: &FetchError{ASIN: "B0", Status: http.StatusForbidden, Err: fmt.Errorf("forbidden")}, expected: "forbidden"},
		{name: "not found", err: &FetchError{ASIN: "B0", Status: http.StatusNotFound, Err: fmt.Errorf("not found")}, expected: "not_found"},
		{name: "rate limited", err: &FetchError{ASIN: "B0", Status: http.StatusTooManyRequests, Err: fmt.Errorf("slow down")}, expected: "rate_limited"},
		{name: "other status", err: &FetchError{ASIN: "B0", Status: http.StatusBadGateway, Err: fmt.Errorf("bad gateway")}, expected: "http_error"},
		{name: "other", err: errors.New("some other error"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(tt.err); got != tt.expected {
				t.Fatalf("errorTypeLabel(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}
