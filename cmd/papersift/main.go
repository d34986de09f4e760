// Command papersift runs the semantic filter over a JSON paper list and
// writes the annotated list back out.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/papersift/llm-engine/internal/config"
	"github.com/papersift/llm-engine/pkg/cache"
	"github.com/papersift/llm-engine/pkg/engine"
	"github.com/papersift/llm-engine/pkg/logging"
	"github.com/papersift/llm-engine/pkg/paper"
	"github.com/papersift/llm-engine/pkg/pool"
	"github.com/papersift/llm-engine/pkg/progress"
	"github.com/papersift/llm-engine/pkg/provider"
	"github.com/papersift/llm-engine/pkg/selector"
	"github.com/papersift/llm-engine/pkg/usage"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration")
		papersPath  = flag.String("papers", "", "path to JSON array of papers")
		includeSpec = flag.String("include", "", "inclusion prompt, or @file")
		excludeSpec = flag.String("exclude", "", "optional exclusion prompt, or @file")
		modelName   = flag.String("model", "", "model name (default: config, then auto)")
		outPath     = flag.String("out", "", "output file (default: stdout)")
	)
	flag.Parse()

	if err := run(*configPath, *papersPath, *includeSpec, *excludeSpec, *modelName, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "papersift: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, papersPath, includeSpec, excludeSpec, modelName, outPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LoggingSetup())

	papers, err := readPapers(papersPath)
	if err != nil {
		return err
	}
	includePrompt, err := readPrompt(includeSpec)
	if err != nil {
		return err
	}
	excludePrompt, err := readPrompt(excludeSpec)
	if err != nil {
		return err
	}

	ledger := usage.NewLedger(logging.NewLogger("usage"))
	p, err := pool.New(cfg.PoolCredentials(), cfg.PoolModels(), ledger, logging.NewLogger("pool"))
	if err != nil {
		return err
	}
	sel := selector.New(p, nil, selector.Config{MinQuotaPct: cfg.Defaults.MinQuotaPct}, logging.NewLogger("selector"))

	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		opts = append(opts, engine.WithCache(cache.NewManager(redisClient, cfg.Redis.TTL.Std())))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Verdict cache enabled")
	}

	eng := engine.New(p, sel, ledger, provider.NewGeminiCaller(logger), opts...)

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	// First SIGINT stops the run and returns partial results; a second
	// one kills the process the usual way.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Signal received; stopping after in-flight batches")
		eng.Stop()
		signal.Stop(sigCh)
	}()

	sink := progress.NewChannelSink(16)
	var printer sync.WaitGroup
	printer.Add(1)
	go func() {
		defer printer.Done()
		for snap := range sink.C() {
			logger.Info().
				Str("status", string(snap.Status)).
				Str("phase", string(snap.Phase)).
				Int("progress", snap.Progress).
				Int("processed", snap.ProcessedPapers).
				Int("total", snap.TotalPapers).
				Int64("rotations", snap.KeyRotations).
				Msg(snap.CurrentTask)
		}
	}()

	model := cfg.Defaults.Model
	if modelName != "" {
		model = modelName
	}

	results, runErr := eng.Run(context.Background(), engine.Request{
		Papers:               papers,
		InclusionPrompt:      includePrompt,
		ExclusionPrompt:      excludePrompt,
		Model:                model,
		BatchSize:            cfg.Defaults.BatchSize,
		MaxConcurrentBatches: cfg.Defaults.MaxConcurrentBatches,
		RetryAttempts:        cfg.Defaults.RetryAttempts,
		Timeout:              cfg.Defaults.Timeout.Std(),
		FallbackStrategy:     engine.FallbackStrategy(cfg.Defaults.FallbackStrategy),
		Sink:                 sink,
	})
	sink.Close()
	printer.Wait()

	// Partial results are written even when the run failed.
	if werr := writePapers(outPath, results); werr != nil {
		return werr
	}

	summary := ledger.DailySummary()
	logger.Info().
		Int64("requests", summary.TotalRequests).
		Int64("tokens", summary.TotalTokens).
		Msg("Usage for today")

	return runErr
}

func readPapers(path string) ([]paper.Paper, error) {
	if path == "" {
		return nil, fmt.Errorf("-papers is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read papers: %w", err)
	}
	var papers []paper.Paper
	if err := json.Unmarshal(raw, &papers); err != nil {
		return nil, fmt.Errorf("parse papers: %w", err)
	}
	return papers, nil
}

// readPrompt returns spec directly, or the contents of a file when spec
// starts with '@'.
func readPrompt(spec string) (string, error) {
	if !strings.HasPrefix(spec, "@") {
		return spec, nil
	}
	raw, err := os.ReadFile(spec[1:])
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func writePapers(path string, papers []paper.Paper) error {
	data, err := json.MarshalIndent(papers, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics endpoint failed")
	}
}
