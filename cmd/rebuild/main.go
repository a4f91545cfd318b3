// Command rebuild reconstructs derived state (candles, positions, agent
// metrics) from stored trade history. Candles and metrics are pure
// functions of the trade log, so a rebuild converges with live state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"ursus-market/internal/candles"
	"ursus-market/internal/domain"
	"ursus-market/internal/portfolio"
	"ursus-market/internal/rollup"
	"ursus-market/internal/storage"
	chstore "ursus-market/internal/storage/clickhouse"
	"ursus-market/internal/storage/memory"
	"ursus-market/internal/storage/migrations"
	pgstore "ursus-market/internal/storage/postgres"
)

func main() {
	loadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	agentsArg := flag.String("agents", "", "Comma-separated agent ids to rebuild (empty for all)")
	skipCandles := flag.Bool("skip-candles", false, "Skip candle reconstruction")
	skipPositions := flag.Bool("skip-positions", false, "Skip position reconstruction")
	migrate := flag.Bool("migrate", true, "Run schema migrations first")

	flag.Parse()

	logger := log.New(os.Stdout, "[rebuild] ", log.LstdFlags)

	if err := run(context.Background(), logger, *postgresDSN, *clickhouseDSN, *agentsArg, *skipCandles, *skipPositions, *migrate); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, logger *log.Logger, postgresDSN, clickhouseDSN, agentsArg string, skipCandles, skipPositions, migrate bool) error {
	if postgresDSN == "" || clickhouseDSN == "" {
		return fmt.Errorf("--postgres-dsn and --clickhouse-dsn are required")
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	conn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		return fmt.Errorf("connect to clickhouse: %w", err)
	}
	defer conn.Close()

	if migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
	}

	tradeStore := pgstore.NewTradeStore(pool)
	positionStore := pgstore.NewPositionStore(pool)
	agentStore := pgstore.NewAgentStore(pool)
	metricsStore := pgstore.NewMetricsStore(pool)
	candleStore := chstore.NewCandleStore(conn)

	agentIDs, err := resolveAgents(ctx, agentStore, agentsArg)
	if err != nil {
		return err
	}
	logger.Printf("Rebuilding %d agent(s)", len(agentIDs))

	roll := rollup.New(tradeStore, positionStore, agentStore, metricsStore, rollup.Options{Logger: logger})

	start := time.Now()
	var total int
	for _, agentID := range agentIDs {
		trades, err := tradeStore.GetByAgent(ctx, agentID)
		if err != nil {
			return fmt.Errorf("load trades for %s: %w", agentID, err)
		}

		// Replay into scratch stores so re-running never double-counts
		// against existing derived rows, then flush the results.
		scratchCandles := memory.NewCandleStore()
		scratchPositions := memory.NewPositionStore()
		aggregator := candles.NewAggregator(scratchCandles)
		ledger := portfolio.NewLedger(scratchPositions, portfolio.Options{Logger: logger})

		// Trades come back ordered by (timestamp, tx_hash); replaying in
		// that order reproduces the exact open/close the live path built.
		for _, trade := range trades {
			if !skipCandles {
				if err := aggregator.ApplyTrade(ctx, trade); err != nil {
					return fmt.Errorf("apply candle for %s: %w", trade.TxHash, err)
				}
			}
			if !skipPositions {
				if _, err := ledger.ApplyTrade(ctx, trade); err != nil {
					return fmt.Errorf("apply position for %s: %w", trade.TxHash, err)
				}
			}
		}
		if !skipPositions && len(trades) > 0 {
			last := trades[len(trades)-1]
			if err := ledger.RefreshValues(ctx, agentID, last.Price()); err != nil {
				return fmt.Errorf("refresh values for %s: %w", agentID, err)
			}
		}

		if !skipCandles {
			if err := flushCandles(ctx, scratchCandles, candleStore, agentID); err != nil {
				return fmt.Errorf("flush candles for %s: %w", agentID, err)
			}
		}
		if !skipPositions {
			if err := flushPositions(ctx, scratchPositions, positionStore, agentID); err != nil {
				return fmt.Errorf("flush positions for %s: %w", agentID, err)
			}
		}

		if _, err := roll.Recompute(ctx, agentID); err != nil {
			return fmt.Errorf("recompute metrics for %s: %w", agentID, err)
		}

		total += len(trades)
		logger.Printf("agent %s: %d trades replayed", agentID, len(trades))
	}

	logger.Printf("Rebuild complete: %d trades across %d agents in %v", total, len(agentIDs), time.Since(start))
	return nil
}

// flushCandles copies every rebuilt candle for the agent into the real store.
func flushCandles(ctx context.Context, scratch, dst storage.CandleStore, agentID string) error {
	for _, tf := range domain.Timeframes {
		rebuilt, err := scratch.GetRange(ctx, agentID, tf, 0, math.MaxInt64)
		if err != nil {
			return err
		}
		for _, c := range rebuilt {
			if err := dst.Upsert(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// flushPositions copies every rebuilt position for the agent into the real store.
func flushPositions(ctx context.Context, scratch, dst storage.PositionStore, agentID string) error {
	rebuilt, err := scratch.GetByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for _, p := range rebuilt {
		if err := dst.Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// resolveAgents expands the --agents flag, defaulting to every known agent.
func resolveAgents(ctx context.Context, agentStore storage.AgentStore, agentsArg string) ([]string, error) {
	if agentsArg != "" {
		var ids []string
		for _, id := range strings.Split(agentsArg, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	agents, err := agentStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.AgentID)
	}
	return ids, nil
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
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
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
