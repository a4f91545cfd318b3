package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ursus-market/internal/broadcast"
	"ursus-market/internal/observability"
	"ursus-market/internal/pipeline"
	"ursus-market/internal/source"
	"ursus-market/internal/storage"
	chstore "ursus-market/internal/storage/clickhouse"
	"ursus-market/internal/storage/memory"
	"ursus-market/internal/storage/migrations"
	pgstore "ursus-market/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	loadEnvFile()

	wsEndpoint := flag.String("ws-endpoint", os.Getenv("TRADE_FEED_WS_ENDPOINT"), "Upstream trade feed WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	migrate := flag.Bool("migrate", true, "Run schema migrations on startup")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	fanoutAddr := flag.String("fanout-addr", ":8081", "WebSocket fanout address (empty to disable)")

	batchSize := flag.Int("batch-size", 50, "Items processed per drain tick")
	maxRetries := flag.Int("max-retries", 3, "Retries before a failing item is dropped")
	retryDelay := flag.Duration("retry-delay", 100*time.Millisecond, "Delay before re-enqueueing a failed item")
	tradeInterval := flag.Duration("trade-drain-interval", 50*time.Millisecond, "Trade queue drain cadence")
	priceInterval := flag.Duration("price-drain-interval", 100*time.Millisecond, "Price history queue drain cadence")
	portfolioInterval := flag.Duration("portfolio-drain-interval", 100*time.Millisecond, "Portfolio queue drain cadence")
	metricsInterval := flag.Duration("metrics-drain-interval", 60*time.Second, "Metrics queue drain cadence")
	maxQueueSize := flag.Int("max-queue-size", 10000, "Per-queue length bound")
	cacheTTL := flag.Duration("cache-ttl", 30*time.Second, "Cached snapshot TTL")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown drain bound")

	flag.Parse()

	logger := log.New(os.Stdout, "[pipeline] ", log.LstdFlags|log.Lshortfile)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(*shutdownTimeout + 10*time.Second):
			logger.Println("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err := run(ctx, logger, runConfig{
		wsEndpoint:    *wsEndpoint,
		postgresDSN:   *postgresDSN,
		clickhouseDSN: *clickhouseDSN,
		useMemory:     *useMemory,
		migrate:       *migrate,
		fanoutAddr:    *fanoutAddr,
		pipeline: pipeline.Config{
			BatchSize:                 *batchSize,
			MaxRetries:                *maxRetries,
			RetryDelay:                *retryDelay,
			TradeDrainInterval:        *tradeInterval,
			PriceHistoryDrainInterval: *priceInterval,
			PortfolioDrainInterval:    *portfolioInterval,
			MetricsDrainInterval:      *metricsInterval,
			MaxQueueSize:              *maxQueueSize,
			CacheTTL:                  *cacheTTL,
			ShutdownTimeout:           *shutdownTimeout,
		},
	})

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

type runConfig struct {
	wsEndpoint    string
	postgresDSN   string
	clickhouseDSN string
	useMemory     bool
	migrate       bool
	fanoutAddr    string
	pipeline      pipeline.Config
}

func run(ctx context.Context, logger *log.Logger, cfg runConfig) error {
	if cfg.wsEndpoint == "" {
		return fmt.Errorf("--ws-endpoint is required")
	}
	if !cfg.useMemory && (cfg.postgresDSN == "" || cfg.clickhouseDSN == "") {
		return fmt.Errorf("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Create stores (use interfaces)
	var tradeStore storage.TradeStore = memory.NewTradeStore()
	var candleStore storage.CandleStore = memory.NewCandleStore()
	var positionStore storage.PositionStore = memory.NewPositionStore()
	var agentStore storage.AgentStore = memory.NewAgentStore()
	var metricsStore storage.MetricsStore = memory.NewMetricsStore()

	if !cfg.useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		conn, err := chstore.NewConn(ctx, cfg.clickhouseDSN)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer conn.Close()

		if cfg.migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return fmt.Errorf("postgres migrations: %w", err)
			}
			if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
				return fmt.Errorf("clickhouse migrations: %w", err)
			}
		}

		tradeStore = pgstore.NewTradeStore(pool)
		positionStore = pgstore.NewPositionStore(pool)
		agentStore = pgstore.NewAgentStore(pool)
		metricsStore = pgstore.NewMetricsStore(pool)
		candleStore = chstore.NewCandleStore(conn)
	}

	// Fanout hub and WebSocket server
	hub := broadcast.NewHub(broadcast.Options{Logger: logger})
	defer hub.Close()

	if cfg.fanoutAddr != "" {
		wsServer := broadcast.NewWSServer(hub, nil, logger)
		defer wsServer.Close()
		go func() {
			logger.Printf("Starting fanout server on %s", cfg.fanoutAddr)
			if err := http.ListenAndServe(cfg.fanoutAddr, wsServer); err != nil && err != http.ErrServerClosed {
				logger.Printf("Fanout server error: %v", err)
			}
		}()
	}

	coord, err := pipeline.New(pipeline.Options{
		Config:        cfg.pipeline,
		TradeStore:    tradeStore,
		CandleStore:   candleStore,
		PositionStore: positionStore,
		AgentStore:    agentStore,
		MetricsStore:  metricsStore,
		Publisher:     hub,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	coord.Start(ctx)

	src, err := source.NewWSSource(ctx, cfg.wsEndpoint, &source.WSSourceConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("connect to trade feed: %w", err)
	}
	defer src.Close()

	logger.Println("Pipeline running...")
	coord.Consume(ctx, src.Trades())

	// Intake stopped; drain what is queued before exiting.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.pipeline.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return ctx.Err()
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
