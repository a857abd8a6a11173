package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-products/checkpoint"
	"github.com/aluiziolira/go-scrape-products/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// Result is one completed fetch-and-extract task. Exactly one Result arrives
// per dispatched identifier, whether the task succeeded or not.
type Result struct {
	ASIN    string
	Product *models.Product
	Rows    [][]string
	Err     error
}

// Pipeline funnels worker results into a single consumer goroutine that owns
// every durable write: output rows first, then the checkpoint entry, one item
// at a time in completion order. Workers never touch the files, so no write
// can interleave.
type Pipeline struct {
	writer OutputWriter
	store  *checkpoint.Store

	resultCh chan Result
	total    int

	wg sync.WaitGroup

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with a modest in-memory buffer.
func NewPipeline(writer OutputWriter, store *checkpoint.Store) *Pipeline {
	return &Pipeline{
		writer:   writer,
		store:    store,
		resultCh: make(chan Result, 64),
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Start launches the consumer. total is the size of the run's target set and
// only feeds the progress log.
func (p *Pipeline) Start(total int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.total = total
	p.mu.Unlock()

	p.wg.Add(1)
	go p.consume()
}

// Process enqueues a completed task result.
func (p *Pipeline) Process(result Result) error {
	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}
	return p.enqueue(result)
}

// Close waits for the consumer to drain and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.resultCh)
	})

	p.wg.Wait()
	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Progress returns the counters the collaborator layer polls: items
// processed, items that produced output rows, and priceless skips.
func (p *Pipeline) Progress() (processed, succeeded, skipped int64) {
	return p.metrics.progress()
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				processed, succeeded, skipped := p.metrics.progress()
				slog.Debug("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int64("succeeded", succeeded),
					slog.Int64("no_price_skips", skipped),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) consume() {
	defer p.wg.Done()

	for result := range p.resultCh {
		p.handle(result)
	}
}

// handle performs the serialized per-item write path. The identifier is
// checkpointed on every path, including failures, so it is never re-fetched
// by a later run.
func (p *Pipeline) handle(result Result) {
	switch {
	case result.Err != nil:
		p.metrics.addFailure()
		slog.Error("item failed",
			slog.String("asin", result.ASIN),
			slog.Any("error", result.Err),
		)
	case len(result.Rows) == 0:
		p.metrics.addSkip()
		slog.Warn("no price resolved, skipping output rows",
			slog.String("asin", result.ASIN),
		)
	default:
		if err := p.writer.WriteItem(result.Product, result.Rows); err != nil {
			p.setErr(fmt.Errorf("write item %s: %w", result.ASIN, err))
			return
		}
		p.metrics.addExported(len(result.Rows))
	}

	if err := p.store.MarkDone(result.ASIN); err != nil {
		p.setErr(fmt.Errorf("checkpoint %s: %w", result.ASIN, err))
		return
	}

	processed := p.metrics.addProcessed()
	slog.Info(fmt.Sprintf("Completed %d/%d: %s", processed, p.total, result.ASIN))
}

func (p *Pipeline) enqueue(result Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.resultCh <- result:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	processed int64
	succeeded int64
	skipped   int64
	failures  int64
	rows      int64
}

func newMetrics() metrics {
	return metrics{}
}

func (m *metrics) addProcessed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	return m.processed
}

func (m *metrics) addExported(rows int) {
	m.mu.Lock()
	m.succeeded++
	m.rows += int64(rows)
	m.mu.Unlock()
}

func (m *metrics) addSkip() {
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

func (m *metrics) addFailure() {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

func (m *metrics) progress() (processed, succeeded, skipped int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed, m.succeeded, m.skipped
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"processed_items": m.processed,
		"exported_items":  m.succeeded,
		"exported_rows":   m.rows,
		"no_price_skips":  m.skipped,
		"failures":        m.failures,
	}
}
