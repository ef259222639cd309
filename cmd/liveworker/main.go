// cmd/liveworker is the live runner: a websocket feature stream drives the
// Signal Core, which drives the Executor/Adapter/ExecLogSink chain. One
// worker goroutine handles the rows of every symbol in arrival order; a
// shared weighted semaphore caps how many order submissions are in flight
// at once and is not refilled on a per-second schedule.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"alpha-core/internal/config"
	"alpha-core/internal/execution/adapter"
	"alpha-core/internal/execution/execlog"
	"alpha-core/internal/execution/executor"
	"alpha-core/internal/execution/store"
	"alpha-core/internal/featuretypes"
	"alpha-core/internal/livefeed"
	"alpha-core/internal/signalcore"
	"alpha-core/libs/database"
	"alpha-core/libs/microstructure"
	"alpha-core/libs/middleware"
	"alpha-core/libs/observability"
	"alpha-core/libs/resilience"
)

var version = "0.1.0"

func main() {
	wsURL := flag.String("ws-url", "", "websocket URL streaming newline-delimited FeatureRow JSON")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbol list to subscribe to (required)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the cross-worker price/book cache (empty disables it)")
	storeDSN := flag.String("store-dsn", "", "Postgres DSN for the execution record store (empty uses an in-memory store)")
	outputDir := flag.String("output", "./liveworker-out", "directory for the execution log outbox")
	sinkMode := flag.String("sink", "jsonl", "signal sink: jsonl|sqlite|dual")
	qpsLimit := flag.Int64("global-qps", 20, "max concurrent in-flight order submissions across all symbol workers")
	flag.Parse()

	if *wsURL == "" || *symbolsFlag == "" {
		log.Fatal("both -ws-url and -symbols are required")
	}
	symbols := splitSymbols(*symbolsFlag)

	cfg := config.ApplyEnv(config.Default())
	if cfg.RunID == "" {
		cfg.RunID = observability.NewRunID()
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = observability.WithRunInfo(ctx, observability.RunInfo{RunID: cfg.RunID})

	log.Printf("starting alpha-core liveworker v%s run_id=%s symbols=%v", version, cfg.RunID, symbols)

	sinks, err := buildSinks(*sinkMode, *outputDir)
	if err != nil {
		log.Fatalf("build signal sinks: %v", err)
	}
	core := signalcore.New(cfg, cfg.RunID, sinks...)

	execSink, err := execlog.New(*outputDir, 0, execlog.DefaultSamplePolicy())
	if err != nil {
		log.Fatalf("open execlog sink: %v", err)
	}
	defer execSink.Close()

	execStore, err := openStore(ctx, *storeDSN)
	if err != nil {
		log.Fatalf("open execution store: %v", err)
	}
	defer execStore.Close()

	placeLimiter := middleware.NewRateLimiterFromEnv("PLACE")
	cancelLimiter := middleware.NewRateLimiterFromEnv("CANCEL")
	breaker := resilience.NewCircuitBreaker(resilience.DefaultConfig("liveworker-adapter"))
	venue := adapter.NewResilientAdapter(adapter.NewBacktestAdapter(), placeLimiter, cancelLimiter, breaker, adapter.DefaultRetryPolicy())

	latency := microstructure.NewLatencyTracker(microstructure.DefaultLatencyTrackerConfig())
	exec := executor.New(executor.ModeLive, venue, execSink, executor.Config{
		Precheck:    executor.NewPrecheck(executor.DefaultPrecheckConfig()),
		Throttler:   executor.NewAdaptiveThrottler(executor.ThrottlerConfig(cfg.Executor.Throttler)),
		Idempotency: executor.NewIdempotencyTracker(10_000),
		Latency:     latency,
	})

	var cache *livefeed.PriceBookCache
	if *redisAddr != "" {
		cache, err = livefeed.NewPriceBookCache(*redisAddr, 10*time.Second)
		if err != nil {
			log.Fatalf("connect redis price/book cache: %v", err)
		}
		defer cache.Close()
		log.Printf("price/book cache connected to %s", *redisAddr)
	}

	client := livefeed.NewClient(*wsURL, symbols, slog.Default())
	qps := semaphore.NewWeighted(*qpsLimit)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return client.Run(gctx) })

	worker := &symbolWorker{
		cfg:   cfg,
		core:  core,
		exec:  exec,
		cache: cache,
		qps:   qps,
		store: execStore,
	}
	group.Go(func() error { return worker.run(gctx, client.FeatureRows()) })

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		log.Fatalf("liveworker exited with error: %v", err)
	}
	log.Println("liveworker shut down cleanly")
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildSinks(mode, outputDir string) ([]signalcore.Sink, error) {
	signalDir := filepath.Join(outputDir, "signals")
	sqlitePath := filepath.Join(outputDir, "signals.db")
	switch mode {
	case "jsonl":
		s, err := signalcore.NewJSONLSink(signalDir)
		if err != nil {
			return nil, err
		}
		return []signalcore.Sink{s}, nil
	case "sqlite":
		s, err := signalcore.NewSQLiteSink(sqlitePath)
		if err != nil {
			return nil, err
		}
		return []signalcore.Sink{s}, nil
	case "dual":
		jsonlSink, err := signalcore.NewJSONLSink(signalDir)
		if err != nil {
			return nil, err
		}
		sqliteSink, err := signalcore.NewSQLiteSink(sqlitePath)
		if err != nil {
			return nil, err
		}
		return []signalcore.Sink{signalcore.MultiSink{Sinks: []signalcore.Sink{jsonlSink, sqliteSink}}}, nil
	default:
		return nil, fmt.Errorf("unknown sink mode %q (want jsonl|sqlite|dual)", mode)
	}
}

func openStore(ctx context.Context, dsn string) (store.Store, error) {
	if dsn == "" {
		return store.NewMemStore(), nil
	}
	dbCfg := database.DefaultConfig()
	dbCfg.DSN = dsn
	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect execution store database: %w", err)
	}
	s := store.NewPostgresStore(db.DB)
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure execution store schema: %w", err)
	}
	return s, nil
}

// clientOrderID derives the deterministic idempotency key spec.md §4.5
// defines: hash(signal_row_id|ts_ms|side|qty|price)[:32].
func clientOrderID(signalRowID string, tsMs int64, side featuretypes.Side, qty, price float64) string {
	raw := fmt.Sprintf("%s|%d|%s|%g|%g", signalRowID, tsMs, side, qty, price)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}
