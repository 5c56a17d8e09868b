package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"MomentumSentinel/internal/model"
	"MomentumSentinel/internal/strategy"
)

// Run modes.
const (
	ModeOnce     = "once"
	ModeInterval = "interval"
	ModeDaily    = "daily"
	ModeCron     = "cron"
	ModeAnalyze  = "analyze"
)

// AssetConfig is one configured asset.
type AssetConfig struct {
	ID     string `yaml:"id"`
	Symbol string `yaml:"symbol"`
}

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	DataSource struct {
		Provider       string        `yaml:"provider"` // coingecko | yahoo | mock
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"`
		VsCurrency     string        `yaml:"vs_currency"`
		TopN           int           `yaml:"top_n"`
		Assets         []AssetConfig `yaml:"assets"`
		Baseline       AssetConfig   `yaml:"baseline"`
		SkipBaseline   bool          `yaml:"skip_baseline"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"data_source"`
	Acquisition struct {
		OutDir        string `yaml:"out_dir"`
		Start         string `yaml:"start"` // YYYY-MM-DD, optional
		End           string `yaml:"end"`   // YYYY-MM-DD, optional
		LookbackDays  int    `yaml:"lookback_days"`
		Concurrency   int    `yaml:"concurrency"`
		Resume        *bool  `yaml:"resume"`
		WriteManifest *bool  `yaml:"write_manifest"`
	} `yaml:"acquisition"`
	RateLimit struct {
		MinInterval time.Duration `yaml:"min_interval"`
		MaxRetries  int           `yaml:"max_retries"`
		BaseBackoff time.Duration `yaml:"base_backoff"`
		MaxBackoff  time.Duration `yaml:"max_backoff"`
	} `yaml:"rate_limit"`
	Strategy struct {
		MAShort      int     `yaml:"ma_short"`
		MALong       int     `yaml:"ma_long"`
		StopLookback int     `yaml:"stop_lookback"`
		ATRMult      float64 `yaml:"atr_mult"`
		VolMult      float64 `yaml:"vol_mult"`
	} `yaml:"strategy"`
	Policy   *strategy.ScoredPolicy `yaml:"policy"`
	Backtest struct {
		OutDir             string  `yaml:"out_dir"`
		PortfolioValue     float64 `yaml:"portfolio_value"`
		RiskCapPercent     float64 `yaml:"risk_cap_percent"`
		MaxPositionPercent float64 `yaml:"max_position_percent"`
		HedgeRatio         float64 `yaml:"hedge_ratio"`
	} `yaml:"backtest"`
	Schedule struct {
		Mode     string        `yaml:"mode"` // once | interval | daily | cron | analyze
		Interval time.Duration `yaml:"interval"`
		DailyAt  string        `yaml:"daily_at"` // HH:MM local time
		Cron     string        `yaml:"cron"`
	} `yaml:"schedule"`
	Lock struct {
		Path       string        `yaml:"path"`
		StaleAfter time.Duration `yaml:"stale_after"`
	} `yaml:"lock"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides, then defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Best effort; real environment variables win over .env entries.
	_ = godotenv.Load()

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	str("CG_PRO_API_KEY", &c.DataSource.APIKey)
	str("DATA_BASE_URL", &c.DataSource.BaseURL)
	str("DATA_PROVIDER", &c.DataSource.Provider)
	str("HTTPS_PROXY", &c.Proxy)
	str("OUT_DIR", &c.Acquisition.OutDir)
	str("RUN_MODE", &c.Schedule.Mode)
	str("DAILY_AT", &c.Schedule.DailyAt)
	str("LOCK_FILE", &c.Lock.Path)
	str("SQLITE_PATH", &c.Database.SQLitePath)
	str("STATUS_ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	if v := os.Getenv("CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Schedule.Interval = d
		}
	}
}

func (c *Config) applyDefaults() {
	ds := &c.DataSource
	if ds.Provider == "" {
		ds.Provider = "coingecko"
	}
	if ds.BaseURL == "" && ds.Provider == "coingecko" {
		ds.BaseURL = "https://pro-api.coingecko.com/api/v3"
	}
	if ds.VsCurrency == "" {
		ds.VsCurrency = "usd"
	}
	if ds.TopN == 0 {
		ds.TopN = 100
	}
	if ds.Baseline.ID == "" {
		ds.Baseline = AssetConfig{ID: "bitcoin", Symbol: "BTC"}
	}
	if ds.RequestTimeout == 0 {
		ds.RequestTimeout = 30 * time.Second
	}

	acq := &c.Acquisition
	if acq.OutDir == "" {
		acq.OutDir = "data/ohlc"
	}
	if acq.LookbackDays == 0 {
		acq.LookbackDays = 365
	}
	if acq.Concurrency == 0 {
		acq.Concurrency = 6
	}
	if acq.Resume == nil {
		acq.Resume = boolPtr(true)
	}
	if acq.WriteManifest == nil {
		acq.WriteManifest = boolPtr(true)
	}

	rl := &c.RateLimit
	if rl.MinInterval == 0 {
		rl.MinInterval = 250 * time.Millisecond
	}
	if rl.MaxRetries == 0 {
		rl.MaxRetries = 6
	}
	if rl.BaseBackoff == 0 {
		rl.BaseBackoff = 300 * time.Millisecond
	}
	if rl.MaxBackoff == 0 {
		rl.MaxBackoff = 60 * time.Second
	}

	def := strategy.DefaultParams()
	st := &c.Strategy
	if st.MAShort == 0 {
		st.MAShort = def.MAShort
	}
	if st.MALong == 0 {
		st.MALong = def.MALong
	}
	if st.StopLookback == 0 {
		st.StopLookback = def.StopLookback
	}
	if st.ATRMult == 0 {
		st.ATRMult = def.ATRMult
	}
	if st.VolMult == 0 {
		st.VolMult = def.VolMult
	}
	if c.Policy == nil {
		c.Policy = strategy.DefaultPolicy()
	}

	bt := &c.Backtest
	if bt.OutDir == "" {
		bt.OutDir = "data/backtest"
	}
	if bt.PortfolioValue == 0 {
		bt.PortfolioValue = def.Sizing.PortfolioValue
	}
	if bt.RiskCapPercent == 0 {
		bt.RiskCapPercent = def.Sizing.RiskCapPercent
	}
	if bt.MaxPositionPercent == 0 {
		bt.MaxPositionPercent = def.Sizing.MaxPositionPercent
	}

	sc := &c.Schedule
	if sc.Mode == "" {
		sc.Mode = ModeOnce
	}
	if sc.Interval == 0 {
		sc.Interval = 60 * time.Minute
	}
	if c.Lock.Path == "" {
		c.Lock.Path = "data/sentinel.lock"
	}
	if c.Lock.StaleAfter == 0 {
		c.Lock.StaleAfter = 6 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func boolPtr(b bool) *bool { return &b }

// Validate checks that all settings are usable.
func (c *Config) Validate() error {
	switch c.DataSource.Provider {
	case "coingecko", "mock":
	case "yahoo":
		if len(c.DataSource.Assets) == 0 {
			return fmt.Errorf("data_source.assets is required for the yahoo provider")
		}
	default:
		return fmt.Errorf("data_source.provider %q is not supported", c.DataSource.Provider)
	}
	if c.DataSource.TopN < 1 && len(c.DataSource.Assets) == 0 {
		return fmt.Errorf("data_source.top_n must be positive")
	}
	if c.Acquisition.Concurrency < 1 {
		return fmt.Errorf("acquisition.concurrency must be at least 1")
	}
	if c.Acquisition.LookbackDays < 1 {
		return fmt.Errorf("acquisition.lookback_days must be positive")
	}
	if _, _, err := c.Range(time.Now()); err != nil {
		return err
	}
	if err := c.StrategyParams().Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if c.Backtest.HedgeRatio < 0 || c.Backtest.HedgeRatio > 1 {
		return fmt.Errorf("backtest.hedge_ratio must be within [0, 1]")
	}
	if c.Backtest.PortfolioValue <= 0 {
		return fmt.Errorf("backtest.portfolio_value must be positive")
	}

	switch c.Schedule.Mode {
	case ModeOnce, ModeAnalyze:
	case ModeInterval:
		if c.Schedule.Interval <= 0 {
			return fmt.Errorf("schedule.interval must be positive")
		}
	case ModeDaily:
		if _, _, err := ParseClock(c.Schedule.DailyAt); err != nil {
			return fmt.Errorf("schedule.daily_at: %w", err)
		}
	case ModeCron:
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	default:
		return fmt.Errorf("schedule.mode %q is not supported", c.Schedule.Mode)
	}
	return nil
}

// ParseClock parses HH:MM.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Range resolves the acquisition window. End defaults to yesterday (UTC)
// so no request asks for an unfinished day.
func (c *Config) Range(now time.Time) (start, end time.Time, err error) {
	end = model.Day(now).AddDate(0, 0, -1)
	if c.Acquisition.End != "" {
		if end, err = time.Parse(model.DateLayout, c.Acquisition.End); err != nil {
			return start, end, fmt.Errorf("acquisition.end: %w", err)
		}
	}
	start = end.AddDate(0, 0, -c.Acquisition.LookbackDays)
	if c.Acquisition.Start != "" {
		if start, err = time.Parse(model.DateLayout, c.Acquisition.Start); err != nil {
			return start, end, fmt.Errorf("acquisition.start: %w", err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("acquisition.end %s is before start %s", end.Format(model.DateLayout), start.Format(model.DateLayout))
	}
	return start, end, nil
}

// StrategyParams builds signal engine parameters.
func (c *Config) StrategyParams() strategy.Params {
	return strategy.Params{
		MAShort:      c.Strategy.MAShort,
		MALong:       c.Strategy.MALong,
		StopLookback: c.Strategy.StopLookback,
		ATRMult:      c.Strategy.ATRMult,
		VolMult:      c.Strategy.VolMult,
		Sizing: strategy.Sizing{
			PortfolioValue:     c.Backtest.PortfolioValue,
			RiskCapPercent:     c.Backtest.RiskCapPercent,
			MaxPositionPercent: c.Backtest.MaxPositionPercent,
		},
	}
}

// Assets converts the configured universe.
func (c *Config) Assets() []model.Asset {
	out := make([]model.Asset, 0, len(c.DataSource.Assets))
	for _, a := range c.DataSource.Assets {
		out = append(out, model.Asset{ID: a.ID, Symbol: strings.ToUpper(a.Symbol)})
	}
	return out
}

// Baseline returns the relative-strength reference asset.
func (c *Config) Baseline() model.Asset {
	return model.Asset{ID: c.DataSource.Baseline.ID, Symbol: strings.ToUpper(c.DataSource.Baseline.Symbol)}
}

// Resume reports whether acquisition continues from persisted data.
func (c *Config) Resume() bool { return c.Acquisition.Resume == nil || *c.Acquisition.Resume }

// WriteManifest reports whether the manifest is written after acquisition.
func (c *Config) WriteManifest() bool {
	return c.Acquisition.WriteManifest == nil || *c.Acquisition.WriteManifest
}
