package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-products/checkpoint"
	"github.com/aluiziolira/go-scrape-products/config"
	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/pipeline"
	"github.com/aluiziolira/go-scrape-products/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	defaultCfg := config.DefaultConfig()
	concurrencyDefault := defaultCfg.Concurrency
	if value, ok, err := config.EnvInt("SCRAPER_CONCURRENCY"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_CONCURRENCY: %v\n", err)
		os.Exit(1)
	} else if ok {
		concurrencyDefault = value
	}
	apiKeyDefault := ""
	if value, ok := config.EnvString("SCRAPER_API_KEY"); ok {
		apiKeyDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	inputFile := flag.String("input", "", "Tabular file of identifiers (.xlsx or delimited text)")
	category := flag.String("category", defaultCfg.Category, "Product category column value")
	productType := flag.String("type", defaultCfg.ProductType, "Product type column value")
	priceFormula := flag.String("formula", defaultCfg.PriceFormula, "Price transform over x (e.g. \"x*1.5\", \"2x\")")
	concurrency := flag.Int("parallel", concurrencyDefault, "Number of concurrent fetch workers")
	timeoutSec := flag.Int("timeout", int(defaultCfg.Timeout/time.Second), "Per-request timeout in seconds (0 disables)")
	apiKey := flag.String("api-key", apiKeyDefault, "Rendering-proxy API key")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", "csv", "Output format: csv, json, or dual")
	checkpointFile := flag.String("checkpoint", defaultCfg.CheckpointFile, "Checkpoint file path")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := buildConfigFromFlags(*inputFile, *category, *productType, *priceFormula, *concurrency, *timeoutSec, *apiKey, *outputFile, *outputFormat, *checkpointFile, *verbose, *metricsAddr)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := checkpoint.Open(cfg.CheckpointFile)
	if err != nil {
		slog.Error("opening checkpoint", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close checkpoint", slog.Any("error", err))
		}
	}()

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	s, err := scraper.NewScraper(cfg, store)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(writer, store)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, err := s.Run(ctx, p)
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, time.Since(startTime))
}

func buildConfigFromFlags(inputFile, category, productType, priceFormula string, concurrency, timeoutSec int, apiKey, outputFile, outputFormat, checkpointFile string, verbose bool, metricsAddr string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.InputFile = inputFile
	cfg.Category = category
	cfg.ProductType = productType
	cfg.PriceFormula = priceFormula
	cfg.Concurrency = concurrency
	cfg.Timeout = time.Duration(timeoutSec) * time.Second
	cfg.APIKey = apiKey
	cfg.OutputFile = outputFile
	cfg.OutputFormat = strings.ToLower(outputFormat)
	cfg.CheckpointFile = checkpointFile
	cfg.Verbose = verbose
	cfg.MetricsAddr = metricsAddr
	return cfg
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.RunResult, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(result.Processed) / duration.Seconds()
	}

	fmt.Printf("  Targeted:        %d\n", result.Targeted)
	fmt.Printf("  Processed:       %d\n", result.Processed)
	fmt.Printf("  Exported:        %d\n", result.Succeeded)
	fmt.Printf("  No-price skips:  %d\n", result.NoPriceSkips)
	fmt.Printf("  Errors:          %d\n", result.ErrorCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:     %v\n", result.ErrorsByType)
	}
	if len(result.FailedASINs) > 0 {
		fmt.Printf("  Failed items:    %d\n", len(result.FailedASINs))
	}
	fmt.Printf("  Duration:        %v\n", duration)
	fmt.Printf("  Items/sec:       %.2f\n", itemsPerSec)
	fmt.Printf("  Output file:     %s\n", result.OutputFile)
	fmt.Printf("  Checkpoint:      %s\n", result.Checkpoint)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
