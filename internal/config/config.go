package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is constructed once
// at process start and passed into every component constructor.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Telegram   TelegramConfig   `yaml:"telegram" mapstructure:"telegram"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TelegramConfig holds the bot adapter settings.
type TelegramConfig struct {
	Token          string  `yaml:"token" mapstructure:"token"`
	SendRPS        float64 `yaml:"send_rps" mapstructure:"send_rps"`
	UpdateTimeout  int     `yaml:"update_timeout_secs" mapstructure:"update_timeout_secs"`
	DebounceMillis int     `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// AnthropicConfig holds Claude API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	VisionModel  string `yaml:"vision_model" mapstructure:"vision_model"`
	AnalyzeModel string `yaml:"analyze_model" mapstructure:"analyze_model"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina Reader/Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PipelineConfig configures stage gating and timeouts. Thresholds are
// configured defaults, never baked into stage logic.
type PipelineConfig struct {
	ScreenThreshold     float64 `yaml:"screen_threshold" mapstructure:"screen_threshold"`
	ExtractThreshold    float64 `yaml:"extract_threshold" mapstructure:"extract_threshold"`
	AnalyzeThreshold    float64 `yaml:"analyze_threshold" mapstructure:"analyze_threshold"`
	ProviderTimeoutSecs int     `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	OverallTimeoutSecs  int     `yaml:"overall_timeout_secs" mapstructure:"overall_timeout_secs"`
	CascadeConfigPath   string  `yaml:"cascade_config" mapstructure:"cascade_config"`
}

// ProviderTimeout returns the per-call provider timeout.
func (p PipelineConfig) ProviderTimeout() time.Duration {
	if p.ProviderTimeoutSecs <= 0 {
		return 45 * time.Second
	}
	return time.Duration(p.ProviderTimeoutSecs) * time.Second
}

// OverallTimeout returns the end-to-end pipeline deadline.
func (p PipelineConfig) OverallTimeout() time.Duration {
	if p.OverallTimeoutSecs <= 0 {
		return 3 * time.Minute
	}
	return time.Duration(p.OverallTimeoutSecs) * time.Second
}

// CacheConfig configures the content-addressed analysis cache.
type CacheConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// ValidationConfig configures the human-in-the-loop confidence band.
type ValidationConfig struct {
	BandLower       float64 `yaml:"band_lower" mapstructure:"band_lower"`
	AcceptThreshold float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	WindowMins      int     `yaml:"window_mins" mapstructure:"window_mins"`
	PromotedConf    float64 `yaml:"promoted_confidence" mapstructure:"promoted_confidence"`
}

// Window returns how long a presented session waits for a human answer
// before expiring.
func (v ValidationConfig) Window() time.Duration {
	if v.WindowMins <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(v.WindowMins) * time.Minute
}

// RetryConfig configures persistence retry behavior.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures the background health checker and its
// alert thresholds.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RIVET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("telegram.send_rps", 3)
	v.SetDefault("telegram.update_timeout_secs", 30)
	v.SetDefault("telegram.debounce_ms", 1200)
	v.SetDefault("anthropic.vision_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.analyze_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("pipeline.screen_threshold", 0.80)
	v.SetDefault("pipeline.extract_threshold", 0.60)
	v.SetDefault("pipeline.analyze_threshold", 0.50)
	v.SetDefault("pipeline.provider_timeout_secs", 45)
	v.SetDefault("pipeline.overall_timeout_secs", 180)
	v.SetDefault("cache.ttl_hours", 720)
	v.SetDefault("validation.band_lower", 0.50)
	v.SetDefault("validation.accept_threshold", 0.85)
	v.SetDefault("validation.window_mins", 1440)
	v.SetDefault("validation.promoted_confidence", 0.95)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.backlog_threshold", 20)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
