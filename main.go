package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fx-scalper-bot/config"
	"fx-scalper-bot/internal/agents"
	"fx-scalper-bot/internal/ai/llm"
	"fx-scalper-bot/internal/api"
	"fx-scalper-bot/internal/auth"
	"fx-scalper-bot/internal/bot"
	"fx-scalper-bot/internal/broker"
	"fx-scalper-bot/internal/database"
	"fx-scalper-bot/internal/engine"
	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/gates"
	"fx-scalper-bot/internal/hub"
	"fx-scalper-bot/internal/ingest"
	"fx-scalper-bot/internal/lifecycle"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
	"fx-scalper-bot/internal/news"
	"fx-scalper-bot/internal/patterns"
	"fx-scalper-bot/internal/ratelimit"
	"fx-scalper-bot/internal/vault"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		mintToken(os.Args[2:])
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		Component:  "main",
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("starting fx scalper", "instruments", cfg.BrokerConfig.Instruments)

	// Vault overlays secrets onto the config before anything dials out.
	vc, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if vc.IsEnabled() {
		secrets, err := vc.Load(ctx)
		if err != nil {
			return fmt.Errorf("vault load: %w", err)
		}
		secrets.ApplyTo(cfg)
		logger.Info("vault secrets applied")
	}

	instruments, err := buildInstruments(cfg.BrokerConfig.Instruments)
	if err != nil {
		return err
	}
	ids := make([]string, len(instruments))
	for i, inst := range instruments {
		ids[i] = inst.ID
	}

	db, err := database.NewDB(cfg.DatabaseConfig.URL, cfg.DatabaseConfig.MaxConns)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	repo := database.NewRepository(db)
	for _, inst := range instruments {
		if err := repo.UpsertInstrument(ctx, inst); err != nil {
			return fmt.Errorf("upsert instrument %s: %w", inst.ID, err)
		}
	}

	writer := database.NewBatchWriter(repo, database.BatchWriterConfig{
		FlushInterval: time.Duration(cfg.DatabaseConfig.BatchFlushMs) * time.Millisecond,
		MaxRows:       cfg.DatabaseConfig.BatchMaxRows,
		QueueDepth:    cfg.DatabaseConfig.BatchQueueDepth,
	})

	bus := events.NewBus()

	// Market data hub: in-process by default, remote when this process
	// runs as a consumer against a producer's hub.
	var store hub.Store
	var hubServer *hub.Server
	if cfg.HubConfig.RemoteAddr != "" {
		store = hub.NewClient(cfg.HubConfig.RemoteAddr, cfg.HubConfig.SharedSecret, "scalper")
		logger.Info("using remote hub", "addr", cfg.HubConfig.RemoteAddr)
	} else {
		h := hub.New(hub.TTLConfig{
			Tick:      time.Duration(cfg.HubConfig.TickTTLMs) * time.Millisecond,
			Candle:    time.Duration(cfg.HubConfig.CandleTTLSec) * time.Second,
			OrderFlow: time.Duration(cfg.HubConfig.OrderFlowTTLMs) * time.Millisecond,
			TA:        time.Duration(cfg.HubConfig.TATTLSec) * time.Second,
		}, cfg.HubConfig.MaxCandles)
		if err := h.WarmStart(ctx, ids, repo.FetchLastCandles, cfg.DatabaseConfig.WarmStartLimit); err != nil {
			logger.Warn("warm start incomplete", "error", err)
		}
		if cfg.HubConfig.ServeEnabled {
			hubServer = hub.NewServer(h, cfg.HubConfig.SharedSecret)
			if err := hubServer.Start(cfg.HubConfig.ListenAddr); err != nil {
				return fmt.Errorf("hub server: %w", err)
			}
		}
		store = h
	}

	driver := broker.NewRESTDriver(cfg.BrokerConfig.RESTBaseURL, cfg.BrokerConfig.APIKey, cfg.BrokerConfig.AccountID)
	if err := driver.OpenSession(ctx); err != nil {
		logger.Warn("broker session not opened, streams will retry", "error", err)
	}

	streamCfg := broker.StreamConfig{
		ConnectTimeout: time.Duration(cfg.BrokerConfig.ConnectTimeoutSec) * time.Second,
		IdleTimeout:    time.Duration(cfg.BrokerConfig.IdleTimeoutSec) * time.Second,
		BackoffInitial: time.Duration(cfg.BrokerConfig.BackoffInitialMs) * time.Millisecond,
		BackoffCap:     time.Duration(cfg.BrokerConfig.BackoffCapMs) * time.Millisecond,
	}

	tickCfg := streamCfg
	tickCfg.URL = cfg.BrokerConfig.StreamURL
	tickStream := broker.NewTickStream(tickCfg, ids)
	spotIngestor := ingest.NewSpotIngestor(store, repo, writer, tickStream, bus)
	tickStream.SetAuthRefresh(driver.RefreshSessionIfExpired)

	var flowStream *broker.FlowStream
	var flowIngestor *ingest.OrderFlowIngestor
	if cfg.OrderFlowConfig.Enabled {
		symbolMap := make(map[string]string)
		var symbols []string
		for _, id := range ids {
			if sym, ok := cfg.OrderFlowConfig.SymbolMap[id]; ok {
				symbolMap[id] = sym
				symbols = append(symbols, sym)
			}
		}
		flowCfg := streamCfg
		flowCfg.URL = cfg.OrderFlowConfig.StreamURL
		flowStream = broker.NewFlowStream(flowCfg, symbols)
		flowIngestor = ingest.NewOrderFlowIngestor(ingest.OrderFlowConfig{
			Window:        time.Duration(cfg.OrderFlowConfig.WindowSec) * time.Second,
			SweepLevels:   cfg.OrderFlowConfig.SweepLevels,
			VPINBuckets:   cfg.OrderFlowConfig.VPINBuckets,
			VPINBucketVol: cfg.OrderFlowConfig.VPINBucketVol,
		}, store, repo, writer, flowStream, symbolMap)
	}

	var taPoller *ingest.IndicatorPoller
	if cfg.IndicatorConfig.Enabled {
		taPoller = ingest.NewIndicatorPoller(
			ingest.NewHTTPTAClient(cfg.IndicatorConfig.BaseURL, cfg.IndicatorConfig.APIKey),
			store, repo,
			ratelimit.NewBucket(cfg.IndicatorConfig.BudgetPerMinute, cfg.IndicatorConfig.BudgetBurst),
			ids,
			time.Duration(cfg.IndicatorConfig.PollIntervalSec)*time.Second,
		)
	}

	var gater *news.Gater
	var calendarPoller *news.CalendarPoller
	if cfg.NewsConfig.Enabled {
		calendarPoller = news.NewCalendarPoller(
			news.NewHTTPCalendarClient(cfg.NewsConfig.BaseURL, cfg.NewsConfig.APIKey),
			repo,
			time.Duration(cfg.NewsConfig.PollIntervalSec)*time.Second,
			24*time.Hour,
		)
		gater = news.NewGater(news.Config{
			PreEventMin:       cfg.NewsConfig.PreEventMin,
			PostEventMin:      cfg.NewsConfig.PostEventMin,
			ClosePositionsMin: cfg.NewsConfig.ClosePositionsMin,
		}, repo, repo, bus, instruments)
	}

	// Typed-nil guard: a nil *Gater must not end up inside a non-nil
	// interface value, downstream code checks for nil.
	var gateNews gates.NewsSource
	var tradeNews lifecycle.NewsSource
	var windows api.WindowSource
	if gater != nil {
		gateNews = gater
		tradeNews = gater
		windows = gater
	}

	preTrade := gates.New(gates.Config{
		MaxSpreadPips:    cfg.GatesConfig.MaxSpreadPips,
		SpreadSanityPips: cfg.GatesConfig.SpreadSanityPips,
		MinATRRatio:      cfg.GatesConfig.MinATRRatio,
		MinATRPips:       cfg.GatesConfig.MinATRPips,
		MinHTFDistPips:   cfg.GatesConfig.MinHTFDistPips,
	}, gateNews)

	detector := patterns.NewDetector(patterns.DefaultConfig())
	orchestrator := agents.NewOrchestrator(llm.NewClient(llmConfig(cfg.AIConfig)))

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var stateStore lifecycle.StateStore
	var redisStore *lifecycle.RedisStateStore
	if cfg.RedisConfig.Enabled {
		redisStore = lifecycle.NewRedisStateStore(cfg.RedisConfig.Address, cfg.RedisConfig.Password, cfg.RedisConfig.DB, zlog)
		stateStore = redisStore
	} else {
		stateStore = lifecycle.NewMemoryStateStore()
	}

	breaker := lifecycle.NewBreaker(lifecycle.BreakerConfig{
		Enabled:              true,
		MaxConsecutiveLosses: cfg.LifecycleConfig.MaxConsecutiveLosses,
		CooldownMinutes:      cfg.LifecycleConfig.CooldownMin,
		MaxDailyTrades:       cfg.LifecycleConfig.MaxDailyTrades,
		MaxDailyLossPct:      cfg.LifecycleConfig.MaxDailyLossPct,
	}, bus)

	trades := lifecycle.New(lifecycle.Config{
		MonitorInterval:  time.Duration(cfg.LifecycleConfig.MonitorIntervalSec) * time.Second,
		DurationCap:      time.Duration(cfg.LifecycleConfig.DurationCapMin) * time.Minute,
		MaxOpenPositions: cfg.LifecycleConfig.MaxOpenPositions,
		PipValuePerLot:   cfg.LifecycleConfig.PipValuePerLot,
		SubmitMaxRetries: cfg.EngineConfig.SubmitMaxRetries,
	}, driver, store, tradeNews, repo, stateStore, breaker, bus, zlog)
	if err := trades.Restore(ctx); err != nil {
		logger.Warn("trade state restore failed", "error", err)
	}

	engineCfg, err := buildEngineConfig(cfg)
	if err != nil {
		return err
	}
	sessions := gates.DefaultSessions()
	decisionEngine := engine.New(
		engineCfg, instruments,
		engine.NewFetcher(store, repo),
		preTrade, detector, orchestrator,
		trades, repo, sessions, bus,
		logging.WithComponent("engine"),
	)

	writer.Start(ctx)

	// Each ingestor owns its stream's run loop; registering the stream
	// as a separate task would dial a second connection and deliver
	// every message twice.
	supervisor := bot.NewSupervisor(bus)
	supervisor.Register(bot.Task{Name: "spot_ingestor", Run: spotIngestor.Run})
	if flowIngestor != nil {
		supervisor.Register(bot.Task{Name: "orderflow_ingestor", Run: flowIngestor.Run})
	}
	if taPoller != nil {
		supervisor.Register(bot.Task{Name: "indicator_poller", Run: taPoller.Run})
	}
	if gater != nil {
		supervisor.Register(bot.Task{Name: "calendar_poller", Run: calendarPoller.Run})
		supervisor.Register(bot.Task{Name: "news_gater", Run: gater.Run})
	}
	supervisor.Register(bot.Task{Name: "engine", Run: decisionEngine.Run})
	supervisor.Register(bot.Task{Name: "lifecycle", Run: trades.Run, Backlog: func() int { return len(trades.OpenTrades()) }})
	supervisor.Register(bot.Task{Name: "batch_writer", Run: func(ctx context.Context) { <-ctx.Done() }, Backlog: writer.Backlog})
	supervisor.StartAll(ctx)

	var apiServer *api.Server
	if cfg.ServerConfig.Enabled {
		var tokens *auth.TokenManager
		if cfg.ServerConfig.AuthSecret != "" {
			tokens = auth.NewTokenManager(cfg.ServerConfig.AuthSecret, 24*time.Hour)
		} else {
			logger.Warn("control api auth disabled, no auth secret configured")
		}
		apiServer = api.NewServer(cfg.ServerConfig, supervisor, trades, breaker, windows, tokens, bus)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("control api: %w", err)
		}
	}

	logger.Info("fx scalper running")
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("control api shutdown", "error", err)
		}
	}
	if hubServer != nil {
		if err := hubServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("hub server shutdown", "error", err)
		}
	}

	supervisor.Wait()
	spotIngestor.FlushCurrentBuckets()
	writer.Flush(shutdownCtx)
	writer.Wait()
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			logger.Warn("redis close", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func buildInstruments(ids []string) ([]market.Instrument, error) {
	out := make([]market.Instrument, 0, len(ids))
	for _, id := range ids {
		inst, err := market.NewInstrument(id)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func buildEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.Config{
		CycleInterval: time.Duration(cfg.EngineConfig.CycleIntervalSec) * time.Second,
		WorkerCount:   cfg.EngineConfig.WorkerCount,
		SoftDeadline:  time.Duration(cfg.EngineConfig.SoftDeadlineSec) * time.Second,
		HardDeadline:  time.Duration(cfg.EngineConfig.HardDeadlineSec) * time.Second,
		WeekendPause:  cfg.EngineConfig.WeekendPause,
		Cycle: engine.CycleConfig{
			RejectScore:      cfg.EngineConfig.RejectScore,
			BorderlineScore:  cfg.EngineConfig.BorderlineScore,
			AutoApproveScore: cfg.EngineConfig.AutoApproveScore,
			DefaultTPPips:    cfg.EngineConfig.DefaultTPPips,
			DefaultSLPips:    cfg.EngineConfig.DefaultSLPips,
			MinRiskReward:    cfg.EngineConfig.MinRiskReward,
			MaxSpreadPips:    cfg.GatesConfig.MaxSpreadPips,
			BaseSizeLots:     cfg.EngineConfig.BaseSizeLots,
			PatternWeight:    cfg.EngineConfig.PatternWeight,
			LLMWeight:        cfg.EngineConfig.LLMWeight,
		},
	}
	closeDay, closeOff, openDay, openOff, err := cfg.EngineConfig.WeekendWindow()
	if err != nil {
		return engine.Config{}, fmt.Errorf("engine: %w", err)
	}
	ec.WeekendClose = engine.WeekMark{Day: closeDay, Offset: closeOff}
	ec.WeekendOpen = engine.WeekMark{Day: openDay, Offset: openOff}
	return ec, nil
}

func llmConfig(ai config.AIConfig) *llm.ClientConfig {
	lc := &llm.ClientConfig{
		Model:      ai.LLMModel,
		Timeout:    time.Duration(ai.CallTimeoutSec) * time.Second,
		MaxRetries: ai.MaxRetries,
		MaxRepairs: ai.MaxRepairs,
		Limiter:    ratelimit.NewBucket(ai.CallsPerMinute, ai.CallsBurst),
	}
	if !ai.Enabled {
		return lc
	}
	switch ai.LLMProvider {
	case "openai":
		lc.Provider = llm.ProviderOpenAI
		lc.APIKey = ai.OpenAIAPIKey
	case "deepseek":
		lc.Provider = llm.ProviderDeepSeek
		lc.APIKey = ai.DeepSeekAPIKey
	default:
		lc.Provider = llm.ProviderClaude
		lc.APIKey = ai.ClaudeAPIKey
	}
	return lc
}

// mintToken prints a bearer token for the control API.
// Usage: fx-scalper-bot token [operator]
func mintToken(args []string) {
	operator := "operator"
	if len(args) > 0 {
		operator = args[0]
	}
	secret := os.Getenv("SERVER_AUTH_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "SERVER_AUTH_SECRET not set")
		os.Exit(1)
	}
	token, err := auth.NewTokenManager(secret, 24*time.Hour).Generate(operator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
