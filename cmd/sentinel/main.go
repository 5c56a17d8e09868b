package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"MomentumSentinel/internal/api"
	"MomentumSentinel/internal/backtest"
	"MomentumSentinel/internal/collector"
	"MomentumSentinel/internal/config"
	"MomentumSentinel/internal/lock"
	"MomentumSentinel/internal/logx"
	"MomentumSentinel/internal/model"
	"MomentumSentinel/internal/notifier"
	"MomentumSentinel/internal/pipeline"
	"MomentumSentinel/internal/ratelimit"
	"MomentumSentinel/internal/recorder"
	"MomentumSentinel/internal/scheduler"
	"MomentumSentinel/internal/store"
	"MomentumSentinel/internal/strategy"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog := logx.New("info")
		bootLog.Error().Err(err).Msg("load config")
		return 2
	}
	log := logx.New(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("config validation")
		return 2
	}
	log.Info().Str("config", cfgPath).Str("mode", cfg.Schedule.Mode).Msg("MomentumSentinel starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := newFetcher(cfg)
	log.Info().Str("provider", fetcher.Name()).Msg("data source ready")

	st := store.NewSeriesStore(cfg.Acquisition.OutDir)
	limiter := ratelimit.New(ratelimit.Config{
		MinInterval: cfg.RateLimit.MinInterval,
		MaxRetries:  cfg.RateLimit.MaxRetries,
		BaseBackoff: cfg.RateLimit.BaseBackoff,
		MaxBackoff:  cfg.RateLimit.MaxBackoff,
	}, log)
	col := collector.NewCollector(fetcher, st, limiter, log)

	params := cfg.StrategyParams()
	engine := strategy.NewEngine(params, cfg.Policy)
	runner := pipeline.NewRunner(col, st, engine, pipeline.Config{
		Acquisition: collector.Options{
			Resume:        cfg.Resume(),
			Concurrency:   cfg.Acquisition.Concurrency,
			TopN:          cfg.DataSource.TopN,
			Assets:        cfg.Assets(),
			Baseline:      cfg.Baseline(),
			SkipBaseline:  cfg.DataSource.SkipBaseline,
			WriteManifest: cfg.WriteManifest(),
		},
		Range: cfg.Range,
		Backtest: backtest.Config{
			InitialCapital:     cfg.Backtest.PortfolioValue,
			RiskCapPercent:     cfg.Backtest.RiskCapPercent,
			MaxPositionPercent: cfg.Backtest.MaxPositionPercent,
			HedgeRatio:         cfg.Backtest.HedgeRatio,
			BaselineMAShort:    params.MAShort,
			BaselineMALong:     params.MALong,
		},
		OutDir: cfg.Backtest.OutDir,
	}, log)

	if cfg.Schedule.Mode == config.ModeAnalyze {
		return analyze(ctx, runner, log)
	}

	rec := newRecorder(cfg, log)
	defer rec.Close()

	var tn *notifier.TelegramNotifier
	var n scheduler.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		n = tn
	}

	trigger, err := newTrigger(cfg)
	if err != nil {
		log.Error().Err(err).Msg("schedule")
		return 2
	}
	daemon := scheduler.New(runner, lock.New(cfg.Lock.Path, cfg.Lock.StaleAfter), rec, n, trigger, log)

	if cfg.Schedule.Mode == config.ModeOnce {
		return once(ctx, daemon, log)
	}

	if cfg.Server.Addr != "" {
		srv := api.NewServer(cfg.Server.Addr, daemon, log)
		srv.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}
	if tn != nil {
		go tn.StartPolling(ctx, daemon.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	if err := daemon.Run(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler")
		return 1
	}
	log.Info().Msg("MomentumSentinel stopped")
	return 0
}

func once(ctx context.Context, daemon *scheduler.Daemon, log zerolog.Logger) int {
	rec, err := daemon.RunOnce(ctx)
	switch {
	case errors.Is(err, lock.ErrContention):
		log.Error().Err(err).Msg("another instance holds the lock")
		return 1
	case err != nil:
		log.Error().Err(err).Msg("cycle failed")
		return 1
	case rec.AssetsFailed > 0:
		log.Warn().Int("assets_ok", rec.AssetsOK).Int("assets_failed", rec.AssetsFailed).Msg("cycle finished with partial success")
	}
	return 0
}

func analyze(ctx context.Context, runner *pipeline.Runner, log zerolog.Logger) int {
	an, err := runner.Compute(ctx)
	if err != nil {
		log.Error().Err(err).Msg("analysis failed")
		return 1
	}
	if len(an.Skipped) > 0 {
		log.Warn().Strs("skipped", an.Skipped).Msg("some series were not analyzed")
	}
	return 0
}

func newFetcher(cfg *config.Config) collector.Fetcher {
	ds := cfg.DataSource
	switch ds.Provider {
	case "yahoo":
		return collector.NewYahooFetcher(ds.VsCurrency, cfg.Assets(), cfg.Proxy, ds.RequestTimeout)
	case "mock":
		assets := cfg.Assets()
		if len(assets) == 0 {
			assets = []model.Asset{{ID: "ethereum", Symbol: "ETH"}, {ID: "solana", Symbol: "SOL"}}
		}
		return &collector.MockFetcher{Assets: assets}
	default:
		return collector.NewCoinGeckoFetcher(ds.BaseURL, ds.APIKey, ds.VsCurrency, cfg.Proxy, ds.RequestTimeout)
	}
}

func newRecorder(cfg *config.Config, log zerolog.Logger) recorder.Recorder {
	if cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder()
	}
	sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
	if err != nil {
		log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		return recorder.NewNoopRecorder()
	}
	return sr
}

func newTrigger(cfg *config.Config) (scheduler.Trigger, error) {
	sc := cfg.Schedule
	t := scheduler.Trigger{Mode: sc.Mode, Interval: sc.Interval, Cron: sc.Cron, Location: time.Local}
	if sc.Mode == config.ModeDaily {
		h, m, err := config.ParseClock(sc.DailyAt)
		if err != nil {
			return t, err
		}
		t.Hour, t.Minute = h, m
	}
	return t, nil
}
