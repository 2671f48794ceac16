package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BrokerConfig    BrokerConfig    `json:"broker"`
	OrderFlowConfig OrderFlowConfig `json:"order_flow"`
	HubConfig       HubConfig       `json:"hub"`
	IndicatorConfig IndicatorConfig `json:"indicators"`
	GatesConfig     GatesConfig     `json:"gates"`
	EngineConfig    EngineConfig    `json:"engine"`
	LifecycleConfig LifecycleConfig `json:"lifecycle"`
	NewsConfig      NewsConfig      `json:"news"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	AIConfig        AIConfig        `json:"ai"`
	ServerConfig    ServerConfig    `json:"server"`
	VaultConfig     VaultConfig     `json:"vault"`
	RedisConfig     RedisConfig     `json:"redis"`
}

// BrokerConfig holds broker session and streaming configuration.
type BrokerConfig struct {
	APIKey            string   `json:"api_key"`
	AccountID         string   `json:"account_id"`
	RESTBaseURL       string   `json:"rest_base_url"`
	StreamURL         string   `json:"stream_url"`
	Demo              bool     `json:"demo"`
	Instruments       []string `json:"instruments"`
	ConnectTimeoutSec int      `json:"connect_timeout_sec"` // default 10
	IdleTimeoutSec    int      `json:"idle_timeout_sec"`    // reconnect after silence, default 60
	BackoffInitialMs  int      `json:"backoff_initial_ms"`
	BackoffCapMs      int      `json:"backoff_cap_ms"`
}

// OrderFlowConfig holds the futures order-flow stream configuration.
type OrderFlowConfig struct {
	Enabled       bool              `json:"enabled"`
	StreamURL     string            `json:"stream_url"`
	SymbolMap     map[string]string `json:"symbol_map"` // spot instrument -> futures symbol
	WindowSec     int               `json:"window_sec"` // rolling window, default 60
	SweepLevels   int               `json:"sweep_levels"`
	VPINBuckets   int               `json:"vpin_buckets"`
	VPINBucketVol float64           `json:"vpin_bucket_volume"`
}

// HubConfig holds market data hub sizing and staleness TTLs.
type HubConfig struct {
	MaxCandles     int `json:"max_candles"`       // bounded window, default 100, hard cap 200
	TickTTLMs      int `json:"tick_ttl_ms"`       // default 2000
	CandleTTLSec   int `json:"candle_ttl_sec"`    // default 120
	OrderFlowTTLMs int `json:"order_flow_ttl_ms"` // default 5000
	TATTLSec       int `json:"ta_ttl_sec"`        // default 600
	// Loopback RPC surface for producer/consumer processes.
	ServeEnabled bool   `json:"serve_enabled"`
	ListenAddr   string `json:"listen_addr"`
	RemoteAddr   string `json:"remote_addr"` // set to use a remote hub instead of in-process
	SharedSecret string `json:"shared_secret"`
}

// IndicatorConfig holds the TA aggregator poller configuration.
type IndicatorConfig struct {
	Enabled         bool    `json:"enabled"`
	BaseURL         string  `json:"base_url"`
	APIKey          string  `json:"api_key"`
	PollIntervalSec int     `json:"poll_interval_sec"` // default 120
	BudgetPerMinute float64 `json:"budget_per_minute"` // token bucket refill
	BudgetBurst     int     `json:"budget_burst"`
}

// GatesConfig holds pre-trade gate thresholds.
type GatesConfig struct {
	MaxSpreadPips    float64 `json:"max_spread_pips"`    // default 1.5
	MinATRRatio      float64 `json:"min_atr_ratio"`      // ATR7/ATR28 floor, default 0.6
	MinATRPips       float64 `json:"min_atr_pips"`       // default 5.5
	MinHTFDistPips   float64 `json:"min_htf_dist_pips"`  // default 6
	SpreadSanityPips float64 `json:"spread_sanity_pips"` // warn above, default 50
}

// EngineConfig holds decision engine cadence and tiering thresholds.
type EngineConfig struct {
	CycleIntervalSec int     `json:"cycle_interval_sec"` // default 60
	WorkerCount      int     `json:"worker_count"`       // bounded LLM concurrency, default 3
	SoftDeadlineSec  int     `json:"soft_deadline_sec"`  // default 10
	HardDeadlineSec  int     `json:"hard_deadline_sec"`  // default 30
	RejectScore      float64 `json:"reject_score"`       // default 60
	BorderlineScore  float64 `json:"borderline_score"`   // default 70
	AutoApproveScore float64 `json:"auto_approve_score"` // default 85
	DefaultTPPips    float64 `json:"default_tp_pips"`    // default 10
	DefaultSLPips    float64 `json:"default_sl_pips"`    // default 6
	MinRiskReward    float64 `json:"min_risk_reward"`    // default 1.5
	BaseSizeLots     float64 `json:"base_size_lots"`     // tier-1 size, default 0.1
	PatternWeight    float64 `json:"pattern_weight"`     // confidence blend, default 0.7
	LLMWeight        float64 `json:"llm_weight"`         // default 0.3
	WeekendPause     bool    `json:"weekend_pause"`
	WeekendCloseUTC  string  `json:"weekend_close_utc"`        // "Friday 22:00"
	WeekendOpenUTC   string  `json:"weekend_open_utc"`         // "Sunday 22:00"
	CurrencyExposure bool    `json:"currency_exposure_filter"` // off by default
	SubmitMaxRetries int     `json:"submit_max_retries"`
}

// LifecycleConfig holds position monitoring and breaker configuration.
type LifecycleConfig struct {
	MonitorIntervalSec   int     `json:"monitor_interval_sec"` // default 30
	DurationCapMin       int     `json:"duration_cap_min"`     // default 20
	MaxOpenPositions     int     `json:"max_open_positions"`   // default 2
	MaxDailyTrades       int     `json:"max_daily_trades"`     // default 40
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	CooldownMin          int     `json:"cooldown_min"` // default 30
	MaxDailyLossPct      float64 `json:"max_daily_loss_pct"`
	PipValuePerLot       float64 `json:"pip_value_per_lot"` // cash PnL per pip per lot
}

// NewsConfig holds the economic-calendar gater configuration.
type NewsConfig struct {
	Enabled           bool   `json:"enabled"`
	BaseURL           string `json:"base_url"`
	APIKey            string `json:"api_key"`
	PollIntervalSec   int    `json:"poll_interval_sec"`   // default 60
	PreEventMin       int    `json:"pre_event_min"`       // default 15
	PostEventMin      int    `json:"post_event_min"`      // default 10
	ClosePositionsMin int    `json:"close_positions_min"` // close open trades this many min before event
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `json:"url"`
	MaxConns        int    `json:"max_conns"`
	BatchFlushMs    int    `json:"batch_flush_ms"`    // default 1000
	BatchMaxRows    int    `json:"batch_max_rows"`    // default 1000
	BatchQueueDepth int    `json:"batch_queue_depth"` // default 10000
	WarmStartLimit  int    `json:"warm_start_limit"`  // candles per instrument, default 100
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// AIConfig holds LLM provider configuration.
type AIConfig struct {
	Enabled        bool    `json:"enabled"`
	LLMProvider    string  `json:"llm_provider"` // "claude", "openai", or "deepseek"
	ClaudeAPIKey   string  `json:"claude_api_key"`
	OpenAIAPIKey   string  `json:"openai_api_key"`
	DeepSeekAPIKey string  `json:"deepseek_api_key"`
	LLMModel       string  `json:"llm_model"`
	CallTimeoutSec int     `json:"call_timeout_sec"` // default 60
	MaxRetries     int     `json:"max_retries"`      // default 2
	MaxRepairs     int     `json:"max_repairs"`      // JSON repair re-prompts, default 2
	CallsPerMinute float64 `json:"calls_per_minute"` // shared token bucket
	CallsBurst     int     `json:"calls_burst"`
}

// ServerConfig holds the control API server configuration.
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	AuthSecret      string `json:"auth_secret"`      // empty disables control auth
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// VaultConfig holds HashiCorp Vault configuration.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for cross-restart trade state.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment always wins over the file.
func applyEnvOverrides(cfg *Config) {
	// Broker
	cfg.BrokerConfig.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.AccountID = getEnvOrDefault("BROKER_ACCOUNT_ID", cfg.BrokerConfig.AccountID)
	cfg.BrokerConfig.RESTBaseURL = getEnvOrDefault("BROKER_REST_URL", cfg.BrokerConfig.RESTBaseURL)
	cfg.BrokerConfig.StreamURL = getEnvOrDefault("BROKER_STREAM_URL", cfg.BrokerConfig.StreamURL)
	cfg.BrokerConfig.Demo = getEnvOrDefault("BROKER_DEMO", "true") == "true"
	if v := os.Getenv("INSTRUMENTS"); v != "" {
		cfg.BrokerConfig.Instruments = splitCSV(v)
	}

	// Order flow
	cfg.OrderFlowConfig.Enabled = getEnvOrDefault("ORDER_FLOW_ENABLED", "true") == "true"
	cfg.OrderFlowConfig.StreamURL = getEnvOrDefault("ORDER_FLOW_STREAM_URL", cfg.OrderFlowConfig.StreamURL)

	// Hub
	cfg.HubConfig.ServeEnabled = getEnvOrDefault("HUB_SERVE_ENABLED", "false") == "true"
	cfg.HubConfig.ListenAddr = getEnvOrDefault("HUB_LISTEN_ADDR", cfg.HubConfig.ListenAddr)
	cfg.HubConfig.RemoteAddr = getEnvOrDefault("HUB_REMOTE_ADDR", cfg.HubConfig.RemoteAddr)
	cfg.HubConfig.SharedSecret = getEnvOrDefault("HUB_SHARED_SECRET", cfg.HubConfig.SharedSecret)

	// Indicators
	cfg.IndicatorConfig.Enabled = getEnvOrDefault("TA_ENABLED", "true") == "true"
	cfg.IndicatorConfig.BaseURL = getEnvOrDefault("TA_BASE_URL", cfg.IndicatorConfig.BaseURL)
	cfg.IndicatorConfig.APIKey = getEnvOrDefault("TA_API_KEY", cfg.IndicatorConfig.APIKey)

	// News
	cfg.NewsConfig.Enabled = getEnvOrDefault("NEWS_ENABLED", "true") == "true"
	cfg.NewsConfig.BaseURL = getEnvOrDefault("NEWS_BASE_URL", cfg.NewsConfig.BaseURL)
	cfg.NewsConfig.APIKey = getEnvOrDefault("NEWS_API_KEY", cfg.NewsConfig.APIKey)

	// Database
	cfg.DatabaseConfig.URL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseConfig.URL)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// AI
	cfg.AIConfig.Enabled = getEnvOrDefault("AI_ENABLED", "true") == "true"
	cfg.AIConfig.LLMProvider = getEnvOrDefault("AI_LLM_PROVIDER", "claude")
	cfg.AIConfig.ClaudeAPIKey = getEnvOrDefault("AI_CLAUDE_API_KEY", cfg.AIConfig.ClaudeAPIKey)
	cfg.AIConfig.OpenAIAPIKey = getEnvOrDefault("AI_OPENAI_API_KEY", cfg.AIConfig.OpenAIAPIKey)
	cfg.AIConfig.DeepSeekAPIKey = getEnvOrDefault("AI_DEEPSEEK_API_KEY", cfg.AIConfig.DeepSeekAPIKey)
	cfg.AIConfig.LLMModel = getEnvOrDefault("AI_LLM_MODEL", "claude-3-haiku-20240307")

	// Server
	cfg.ServerConfig.Enabled = getEnvOrDefault("WEB_ENABLED", "true") == "true"
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.AuthSecret = getEnvOrDefault("SERVER_AUTH_SECRET", cfg.ServerConfig.AuthSecret)

	// Vault
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "fx-scalper/api-keys")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Redis
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
}

// applyDefaults fills any zero values left after file + env merge.
func applyDefaults(cfg *Config) {
	if len(cfg.BrokerConfig.Instruments) == 0 {
		cfg.BrokerConfig.Instruments = []string{"EUR_USD", "GBP_USD", "USD_JPY"}
	}
	setIntDefault(&cfg.BrokerConfig.ConnectTimeoutSec, 10)
	setIntDefault(&cfg.BrokerConfig.IdleTimeoutSec, 60)
	setIntDefault(&cfg.BrokerConfig.BackoffInitialMs, 1000)
	setIntDefault(&cfg.BrokerConfig.BackoffCapMs, 60000)

	setIntDefault(&cfg.OrderFlowConfig.WindowSec, 60)
	setIntDefault(&cfg.OrderFlowConfig.SweepLevels, 3)
	setIntDefault(&cfg.OrderFlowConfig.VPINBuckets, 50)
	setFloatDefault(&cfg.OrderFlowConfig.VPINBucketVol, 100)
	if cfg.OrderFlowConfig.SymbolMap == nil {
		cfg.OrderFlowConfig.SymbolMap = map[string]string{
			"EUR_USD": "6E", "GBP_USD": "6B", "USD_JPY": "6J",
			"AUD_USD": "6A", "USD_CAD": "6C", "USD_CHF": "6S",
		}
	}

	setIntDefault(&cfg.HubConfig.MaxCandles, 100)
	if cfg.HubConfig.MaxCandles > 200 {
		cfg.HubConfig.MaxCandles = 200
	}
	setIntDefault(&cfg.HubConfig.TickTTLMs, 2000)
	setIntDefault(&cfg.HubConfig.CandleTTLSec, 120)
	setIntDefault(&cfg.HubConfig.OrderFlowTTLMs, 5000)
	setIntDefault(&cfg.HubConfig.TATTLSec, 600)
	if cfg.HubConfig.ListenAddr == "" {
		cfg.HubConfig.ListenAddr = "127.0.0.1:7600"
	}

	setIntDefault(&cfg.IndicatorConfig.PollIntervalSec, 120)
	setFloatDefault(&cfg.IndicatorConfig.BudgetPerMinute, 30)
	setIntDefault(&cfg.IndicatorConfig.BudgetBurst, 5)

	setFloatDefault(&cfg.GatesConfig.MaxSpreadPips, 1.5)
	setFloatDefault(&cfg.GatesConfig.MinATRRatio, 0.6)
	setFloatDefault(&cfg.GatesConfig.MinATRPips, 5.5)
	setFloatDefault(&cfg.GatesConfig.MinHTFDistPips, 6)
	setFloatDefault(&cfg.GatesConfig.SpreadSanityPips, 50)

	setIntDefault(&cfg.EngineConfig.CycleIntervalSec, 60)
	setIntDefault(&cfg.EngineConfig.WorkerCount, 3)
	setIntDefault(&cfg.EngineConfig.SoftDeadlineSec, 10)
	setIntDefault(&cfg.EngineConfig.HardDeadlineSec, 30)
	setFloatDefault(&cfg.EngineConfig.RejectScore, 60)
	setFloatDefault(&cfg.EngineConfig.BorderlineScore, 70)
	setFloatDefault(&cfg.EngineConfig.AutoApproveScore, 85)
	setFloatDefault(&cfg.EngineConfig.DefaultTPPips, 10)
	setFloatDefault(&cfg.EngineConfig.DefaultSLPips, 6)
	setFloatDefault(&cfg.EngineConfig.MinRiskReward, 1.5)
	setFloatDefault(&cfg.EngineConfig.BaseSizeLots, 0.1)
	setFloatDefault(&cfg.EngineConfig.PatternWeight, 0.7)
	setFloatDefault(&cfg.EngineConfig.LLMWeight, 0.3)
	setIntDefault(&cfg.EngineConfig.SubmitMaxRetries, 2)
	if cfg.EngineConfig.WeekendCloseUTC == "" {
		cfg.EngineConfig.WeekendPause = true
		cfg.EngineConfig.WeekendCloseUTC = "Friday 22:00"
		cfg.EngineConfig.WeekendOpenUTC = "Sunday 22:00"
	}

	setIntDefault(&cfg.LifecycleConfig.MonitorIntervalSec, 30)
	setIntDefault(&cfg.LifecycleConfig.DurationCapMin, 20)
	setIntDefault(&cfg.LifecycleConfig.MaxOpenPositions, 2)
	setIntDefault(&cfg.LifecycleConfig.MaxDailyTrades, 40)
	setIntDefault(&cfg.LifecycleConfig.MaxConsecutiveLosses, 5)
	setIntDefault(&cfg.LifecycleConfig.CooldownMin, 30)
	setFloatDefault(&cfg.LifecycleConfig.MaxDailyLossPct, 3.0)
	setFloatDefault(&cfg.LifecycleConfig.PipValuePerLot, 1.0)

	setIntDefault(&cfg.NewsConfig.PollIntervalSec, 60)
	setIntDefault(&cfg.NewsConfig.PreEventMin, 15)
	setIntDefault(&cfg.NewsConfig.PostEventMin, 10)
	setIntDefault(&cfg.NewsConfig.ClosePositionsMin, 10)

	setIntDefault(&cfg.DatabaseConfig.MaxConns, 10)
	setIntDefault(&cfg.DatabaseConfig.BatchFlushMs, 1000)
	setIntDefault(&cfg.DatabaseConfig.BatchMaxRows, 1000)
	setIntDefault(&cfg.DatabaseConfig.BatchQueueDepth, 10000)
	setIntDefault(&cfg.DatabaseConfig.WarmStartLimit, 100)

	setIntDefault(&cfg.AIConfig.CallTimeoutSec, 60)
	setIntDefault(&cfg.AIConfig.MaxRetries, 2)
	setIntDefault(&cfg.AIConfig.MaxRepairs, 2)
	setFloatDefault(&cfg.AIConfig.CallsPerMinute, 20)
	setIntDefault(&cfg.AIConfig.CallsBurst, 4)

	setIntDefault(&cfg.ServerConfig.ReadTimeout, 30)
	setIntDefault(&cfg.ServerConfig.WriteTimeout, 30)
	setIntDefault(&cfg.ServerConfig.ShutdownTimeout, 10)
}

// Validate rejects configurations that would violate hard invariants.
func (c *Config) Validate() error {
	if c.EngineConfig.RejectScore > c.EngineConfig.BorderlineScore {
		return fmt.Errorf("engine: reject_score %.0f above borderline_score %.0f",
			c.EngineConfig.RejectScore, c.EngineConfig.BorderlineScore)
	}
	if c.EngineConfig.BorderlineScore > c.EngineConfig.AutoApproveScore {
		return fmt.Errorf("engine: borderline_score %.0f above auto_approve_score %.0f",
			c.EngineConfig.BorderlineScore, c.EngineConfig.AutoApproveScore)
	}
	if c.EngineConfig.MinRiskReward < 1.0 {
		return fmt.Errorf("engine: min_risk_reward %.2f below 1.0", c.EngineConfig.MinRiskReward)
	}
	if c.HubConfig.RemoteAddr != "" && c.HubConfig.SharedSecret == "" {
		return fmt.Errorf("hub: remote_addr set without shared_secret")
	}
	if c.HubConfig.ServeEnabled && c.HubConfig.SharedSecret == "" {
		return fmt.Errorf("hub: serve_enabled without shared_secret")
	}
	return nil
}

// WeekendWindow parses the configured weekend close/open boundaries.
// Returns the close weekday+offset and open weekday+offset from midnight UTC.
func (c *EngineConfig) WeekendWindow() (closeDay time.Weekday, closeOff time.Duration, openDay time.Weekday, openOff time.Duration, err error) {
	closeDay, closeOff, err = parseWeekdayClock(c.WeekendCloseUTC)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("weekend_close_utc: %w", err)
	}
	openDay, openOff, err = parseWeekdayClock(c.WeekendOpenUTC)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("weekend_open_utc: %w", err)
	}
	return closeDay, closeOff, openDay, openOff, nil
}

func parseWeekdayClock(s string) (time.Weekday, time.Duration, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want %q format, got %q", "Friday 22:00", s)
	}
	var day time.Weekday
	found := false
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), parts[0]) {
			day = d
			found = true
			break
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("unknown weekday %q", parts[0])
	}
	clock, err := time.Parse("15:04", parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad clock %q: %w", parts[1], err)
	}
	off := time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute
	return day, off, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setIntDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloatDefault(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
