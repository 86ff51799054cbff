// Up/Down Market Maker — an automated quoting bot for Polymarket's
// short-cycle Up/Down binary markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires live or paper execution, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: discovery → books → quoting state machine → order manager
//	discovery/finder.go  — enumerates the deterministic btc/eth 15m and 1h slugs against the Gamma API
//	feed/feed.go         — market WebSocket: top-of-book cache plus a last-trade print buffer
//	quote/               — pricing: tick math, inventory skew, size bands, maker improvement
//	orders/manager.go    — one-live-order-per-token slots, replace policy, fill polling
//	sim/simulator.go     — paper executor: queue-position and trade-tape fill model
//	exchange/client.go   — REST client for the CLOB API (place/cancel/status, balances, positions)
//	exchange/auth.go     — L1 (EIP-712) and L2 (HMAC) authentication
//	inventory/           — per-market share ledger and the smoothed bankroll view
//	store/store.go       — JSON file persistence for inventory (survives restarts)
//	api/server.go        — local status endpoint: JSON snapshot + WebSocket event stream
//
// How it makes money:
//
//	Each Up/Down market is a complementary pair: the Up and Down outcomes
//	settle to $1 combined. The bot rests a bid on each leg; when both fill,
//	it has bought a complete set for less than $1 and keeps the difference.
//	Inventory skew, hedge delays, and top-up orders manage the risk of the
//	window where only one leg has filled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"updown-mm/internal/api"
	"updown-mm/internal/config"
	"updown-mm/internal/discovery"
	"updown-mm/internal/engine"
	"updown-mm/internal/exchange"
	"updown-mm/internal/feed"
	"updown-mm/internal/orders"
	"updown-mm/internal/sim"
	"updown-mm/internal/store"
	"updown-mm/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("UPDOWN_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := types.RealClock{}
	// The engine and the simulator tick on different goroutines, so each
	// gets its own rand source.
	engineRng := rand.New(rand.NewSource(time.Now().UnixNano()))
	simRng := rand.New(rand.NewSource(time.Now().UnixNano() + 1))

	books := feed.New(cfg.API.WSMarketURL, clock, logger)
	go func() {
		if err := books.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("market feed stopped", "error", err)
		}
	}()

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var exec exchange.Executor
	var paperSim *sim.Simulator
	switch cfg.ExecutionMode {
	case "live":
		exec, err = buildLiveExecutor(ctx, *cfg, clock, logger)
		if err != nil {
			return err
		}
	default:
		paperSim = buildSimulator(*cfg, books, clock, simRng, logger)
		go paperSim.Run(ctx)
		exec = paperSim
	}

	finder := discovery.NewFinder(*cfg, clock, logger)
	go finder.Run(ctx)

	om := orders.NewManager(exec, clock, logger)

	eng := engine.New(engine.Params{
		Config: *cfg,
		Exec:   exec,
		Books:  books,
		Clock:  clock,
		Rng:    engineRng,
		Logger: logger,
		Store:  st,
		Sim:    paperSim,
		Orders: om,
	})

	var apiServer *api.Server
	if cfg.Status.Enabled {
		apiServer = api.NewServer(*cfg, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		go streamOrderEvents(ctx, om, apiServer)
		logger.Info("status server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Status.Port))
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx, finder.Results())
	}()

	logger.Info("up/down market maker started",
		"mode", cfg.ExecutionMode,
		"assets", cfg.Discovery.Assets,
		"quote_size", cfg.Engine.QuoteSize,
		"min_edge", cfg.Engine.CompleteSetMinEdge,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}

	cancel()
	select {
	case <-engineDone:
	case <-time.After(15 * time.Second):
		logger.Warn("engine did not stop in time")
	}
	return nil
}

// buildLiveExecutor signs in against the CLOB API, deriving L2 credentials
// when the config carries none.
func buildLiveExecutor(ctx context.Context, cfg config.Config, clock types.Clock, logger *slog.Logger) (exchange.Executor, error) {
	auth, err := exchange.NewAuth(cfg, clock)
	if err != nil {
		return nil, fmt.Errorf("wallet auth: %w", err)
	}

	client := exchange.NewClient(cfg, auth, clock, logger)
	if !auth.HasL2Credentials() {
		creds, err := client.DeriveAPIKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("derive api key: %w", err)
		}
		auth.SetCredentials(*creds)
		logger.Info("derived L2 api credentials", "address", auth.Address().Hex())
	}
	return client, nil
}

// buildSimulator assembles the paper executor with the configured tape
// source.
func buildSimulator(cfg config.Config, books *feed.Feed, clock types.Clock, rng *rand.Rand, logger *slog.Logger) *sim.Simulator {
	wsPrints := func(tokens []string, lookback time.Duration, limit int) []types.TradePrint {
		set := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			set[t] = true
		}
		return books.RecentPrints(set, lookback, limit)
	}

	var tapeFn sim.TapeSource
	if cfg.TradeTape.Enabled {
		switch cfg.TradeTape.Source {
		case "bid_delta":
			tapeFn = sim.NewBidDeltaSource(cfg.TradeTape, books.TopOfBook, clock).Prints
		case "history":
			tapeFn = sim.NewHistorySource(cfg.API.DataBaseURL, clock, logger).Prints
		case "ws":
			tapeFn = wsPrints
		default:
			logger.Warn("unknown trade tape source, falling back to ws prints",
				"source", cfg.TradeTape.Source)
			tapeFn = wsPrints
		}
	}

	return sim.New(
		cfg.Simulator,
		cfg.TradeTape,
		books.TopOfBook,
		tapeFn,
		cfg.Bankroll.BankrollUsd,
		cfg.Engine.TOBMaxAge(),
		clock,
		rng,
		logger,
	)
}

// streamOrderEvents bridges order-manager transitions onto the status
// WebSocket.
func streamOrderEvents(ctx context.Context, om *orders.Manager, server *api.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-om.Events():
			if !ok {
				return
			}
			server.Broadcast(api.NewOrderEvent(ev))
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
