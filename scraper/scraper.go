// Package scraper orchestrates the fetch-extract-export run.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-products/checkpoint"
	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/formula"
	"github.com/aluiziolira/go-scrape-products/loader"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/parser"
	"github.com/aluiziolira/go-scrape-products/pipeline"
)

// Scraper owns the worker pool that fetches and extracts product pages.
// Durable writes happen downstream in the pipeline's single consumer.
type Scraper struct {
	cfg     *config.Config
	fetcher *Fetcher
	store   *checkpoint.Store
	Metrics *Metrics

	requestCount int64
	errorCount   int64

	mu           sync.Mutex
	failedASINs  []string
	errorsByType map[string]int
}

// NewScraper builds a scraper instance configured from cfg. The checkpoint
// store supplies the already-attempted set.
func NewScraper(cfg *config.Config, store *checkpoint.Store) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		cfg:          cfg,
		fetcher:      fetcher,
		store:        store,
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}, nil
}

// Fetcher exposes the page fetcher, mainly so tests can swap its transport.
func (s *Scraper) Fetcher() *Fetcher {
	return s.fetcher
}

// Run loads the identifiers, subtracts the checkpoint set, and drives the
// remaining targets through the worker pool until the target set is
// exhausted or ctx is cancelled. Only an unreadable input file is fatal.
// Run closes the pipeline before returning, so the counters in the result
// cover every handled item; a later Close by the caller is a no-op.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ids, err := loader.ReadIdentifiers(s.cfg.InputFile)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded identifiers",
		slog.String("input", s.cfg.InputFile),
		slog.Int("unique", len(ids)),
		slog.Int("checkpointed", s.store.Len()),
	)

	targets := make([]string, 0, len(ids))
	for _, id := range ids {
		if !s.store.IsDone(id) {
			targets = append(targets, id)
		}
	}

	start := time.Now()
	p.Start(len(targets))
	slog.Info("starting scrape",
		slog.Int("targets", len(targets)),
		slog.Int("workers", s.cfg.Concurrency),
	)

	idCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go s.worker(ctx, idCh, p, &wg)
	}

dispatch:
	for _, id := range targets {
		select {
		case <-ctx.Done():
			slog.Info("dispatch stopped", slog.Any("cause", ctx.Err()))
			break dispatch
		case idCh <- id:
		}
	}
	close(idCh)
	wg.Wait()

	// Workers only enqueue results. The consumer may still be draining the
	// channel, so close the pipeline before reading the counters.
	if cerr := p.Close(); cerr != nil {
		slog.Error("pipeline drain", slog.Any("error", cerr))
	}

	processed, succeeded, skipped := p.Progress()
	return &models.RunResult{
		StartTime:    start,
		EndTime:      time.Now(),
		Targeted:     len(targets),
		Processed:    int(processed),
		Succeeded:    int(succeeded),
		NoPriceSkips: int(skipped),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		ErrorsByType: s.snapshotErrors(),
		FailedASINs:  s.snapshotFailedASINs(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		OutputFile:   s.cfg.OutputFile,
		Checkpoint:   s.store.Path(),
	}, nil
}

// worker drains the id channel until it closes. In-flight items finish even
// after cancellation; only undispatched items are dropped.
func (s *Scraper) worker(ctx context.Context, idCh <-chan string, p *pipeline.Pipeline, wg *sync.WaitGroup) {
	defer wg.Done()

	for asin := range idCh {
		result := s.process(ctx, asin)
		if err := p.Process(result); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
			slog.Error("pipeline process error",
				slog.String("asin", asin),
				slog.Any("error", err),
			)
		}
	}
}

// process runs one identifier through fetch, extract, price transform, and
// row building. It always returns a Result so the item gets checkpointed.
func (s *Scraper) process(ctx context.Context, asin string) pipeline.Result {
	atomic.AddInt64(&s.requestCount, 1)

	raw, err := s.fetcher.Fetch(ctx, asin)
	if err != nil {
		s.recordError(asin, err)
		return pipeline.Result{ASIN: asin, Err: err}
	}

	product, err := parser.Parse(asin, raw)
	if err != nil {
		// Extraction failures degrade to an empty record; the item is still
		// checkpointed downstream.
		s.recordError(asin, err)
		slog.Error("extraction failed",
			slog.String("asin", asin),
			slog.Any("error", err),
		)
	}
	if product.Unavailable {
		slog.Warn("product currently unavailable", slog.String("asin", asin))
	}

	costPrice := parser.CleanPrice(product.PriceText)
	variantPrice, ferr := formula.Apply(costPrice, s.cfg.PriceFormula)
	if ferr != nil {
		s.Metrics.IncError("formula")
		slog.Error("price formula failed, keeping original price",
			slog.String("asin", asin),
			slog.Any("error", ferr),
		)
	}

	rows := pipeline.BuildRows(product, s.cfg.Category, s.cfg.ProductType, variantPrice, costPrice)
	if len(rows) > 0 {
		s.Metrics.IncItems()
	} else {
		s.Metrics.IncNoPrice()
	}

	return pipeline.Result{ASIN: asin, Product: product, Rows: rows}
}

func (s *Scraper) recordError(asin string, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	label := errorTypeLabel(err)

	s.mu.Lock()
	s.errorsByType[label]++
	s.failedASINs = append(s.failedASINs, asin)
	s.mu.Unlock()

	s.Metrics.IncError(label)
}

func (s *Scraper) snapshotFailedASINs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedASINs))
	copy(out, s.failedASINs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
