// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure of AppConfig and TradingConfig.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	RPCURL       string `mapstructure:"rpc_url"`
	WebSocketURL string `mapstructure:"websocket_url"`
	PrivateKey   string `mapstructure:"private_key"`
	HTTPAddr     string `mapstructure:"http_addr"`

	ScanIntervalSec    int    `mapstructure:"scan_interval_sec"`
	TradingConfigPath  string `mapstructure:"trading_config_path"`
	DatabasePath       string `mapstructure:"database_path"`
	EventBufferSize    int    `mapstructure:"event_buffer_size"`
	ExecutionTimeoutMs int    `mapstructure:"execution_timeout_ms"`

	Surveillance SurveillanceConfig `mapstructure:"surveillance"`

	DexscreenerURL string `mapstructure:"dexscreener_url"`
	BirdeyeURL     string `mapstructure:"birdeye_url"`
	BirdeyeAPIKey  string `mapstructure:"birdeye_api_key"`
	LLMURL         string `mapstructure:"llm_url"`
	LLMAPIKey      string `mapstructure:"llm_api_key"`
	LLMModel       string `mapstructure:"llm_model"`
	JupiterURL     string `mapstructure:"jupiter_url"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`

	License            string `mapstructure:"license"`
	KeygenAccountID    string `mapstructure:"keygen_account_id"`
	KeygenProductID    string `mapstructure:"keygen_product_id"`
	KeygenProductToken string `mapstructure:"keygen_product_token"`
}

// SurveillanceConfig tunes the chain log subscription.
type SurveillanceConfig struct {
	Enabled                bool     `mapstructure:"enabled"`
	Commitment             string   `mapstructure:"commitment"`
	Mentions               []string `mapstructure:"mentions"`
	MaxReconnectAttempts   int      `mapstructure:"max_reconnect_attempts"`
	InitialBackoffMs       int      `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs           int      `mapstructure:"max_backoff_ms"`
	LargeTransferThreshold uint64   `mapstructure:"large_transfer_threshold"`
	InspectTimeoutMs       int      `mapstructure:"inspect_timeout_ms"`
	PingIntervalSec        int      `mapstructure:"ping_interval_sec"`
	IdleTimeoutSec         int      `mapstructure:"idle_timeout_sec"`
	MinUptimeSec           int      `mapstructure:"min_uptime_sec"`
}

const (
	DefaultRPCURL             = "https://api.mainnet-beta.solana.com"
	DefaultWebSocketURL       = "wss://api.mainnet-beta.solana.com/"
	DefaultHTTPAddr           = ":5000"
	DefaultScanIntervalSec    = 60
	DefaultTradingConfigPath  = "auto_trader_config.json"
	DefaultDatabasePath       = "data/journal.db"
	DefaultEventBufferSize    = 256
	DefaultExecutionTimeoutMs = 60000

	DefaultMaxReconnectAttempts   = 5
	DefaultInitialBackoffMs       = 200
	DefaultMaxBackoffMs           = 2000
	DefaultLargeTransferThreshold = 1_000_000_000_000
	DefaultInspectTimeoutMs       = 10000
	DefaultPingIntervalSec        = 20
	DefaultIdleTimeoutSec         = 60
	DefaultMinUptimeSec           = 30

	DefaultDexscreenerURL = "https://api.dexscreener.com/latest/dex"
	DefaultBirdeyeURL     = "https://public-api.birdeye.so/public"
	DefaultLLMURL         = "https://api.llm7.io/v1"
	DefaultLLMModel       = "gpt-4"
	DefaultJupiterURL     = "https://quote-api.jup.ag/v6"

	envPrefix = "SOLSNIPERX"
)

// envAliases keeps the variable names operators already export for the bot.
var envAliases = map[string]string{
	"rpc_url":         "SOLANA_RPC_URL",
	"websocket_url":   "SOLANA_WS_URL",
	"private_key":     "SOLANA_PRIVATE_KEY",
	"birdeye_api_key": "BIRDEYE_API_KEY",
	"llm_api_key":     "LLM7_API_KEY",
}

// LoadConfig reads path (optional), .env and the environment into a validated Config.
func LoadConfig(path string) (*Config, error) {
	// .env is a convenience; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()

	defaults := map[string]interface{}{
		"rpc_url":              DefaultRPCURL,
		"websocket_url":        DefaultWebSocketURL,
		"http_addr":            DefaultHTTPAddr,
		"scan_interval_sec":    DefaultScanIntervalSec,
		"trading_config_path":  DefaultTradingConfigPath,
		"database_path":        DefaultDatabasePath,
		"event_buffer_size":    DefaultEventBufferSize,
		"execution_timeout_ms": DefaultExecutionTimeoutMs,
		"dexscreener_url":      DefaultDexscreenerURL,
		"birdeye_url":          DefaultBirdeyeURL,
		"llm_url":              DefaultLLMURL,
		"llm_model":            DefaultLLMModel,
		"jupiter_url":          DefaultJupiterURL,
		"log_file":             "logs/solsniperx.log",

		"surveillance.enabled":                  true,
		"surveillance.commitment":               "processed",
		"surveillance.mentions":                 []string{},
		"surveillance.max_reconnect_attempts":   DefaultMaxReconnectAttempts,
		"surveillance.initial_backoff_ms":       DefaultInitialBackoffMs,
		"surveillance.max_backoff_ms":           DefaultMaxBackoffMs,
		"surveillance.large_transfer_threshold": uint64(DefaultLargeTransferThreshold),
		"surveillance.inspect_timeout_ms":       DefaultInspectTimeoutMs,
		"surveillance.ping_interval_sec":        DefaultPingIntervalSec,
		"surveillance.idle_timeout_sec":         DefaultIdleTimeoutSec,
		"surveillance.min_uptime_sec":           DefaultMinUptimeSec,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := bindEnvironment(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, validateConfig(&cfg)
}

// ScanInterval returns the control-loop cadence.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSec) * time.Second
}

// ExecutionTimeout bounds a single executor call.
func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutMs) * time.Millisecond
}

// InitialBackoff is the first reconnect delay.
func (s SurveillanceConfig) InitialBackoff() time.Duration {
	return time.Duration(s.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff caps the reconnect delay.
func (s SurveillanceConfig) MaxBackoff() time.Duration {
	return time.Duration(s.MaxBackoffMs) * time.Millisecond
}

// PingInterval is how often the subscription socket is pinged.
func (s SurveillanceConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalSec) * time.Second
}

// IdleTimeout drops a subscription that has been silent this long.
func (s SurveillanceConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSec) * time.Second
}

// MinUptime is how long a session without records must last to count as healthy.
func (s SurveillanceConfig) MinUptime() time.Duration {
	return time.Duration(s.MinUptimeSec) * time.Second
}

// InspectTimeout bounds a single transaction lookup.
func (s SurveillanceConfig) InspectTimeout() time.Duration {
	return time.Duration(s.InspectTimeoutMs) * time.Millisecond
}

func bindEnvironment(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, alias := range envAliases {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(key), alias); err != nil {
			return fmt.Errorf("bind env %s: %w", alias, err)
		}
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if err := validateURLWithCache(cfg.RPCURL, "http"); err != nil {
		return fmt.Errorf("%w: rpc_url: %v", ErrInvalidConfig, err)
	}
	if cfg.Surveillance.Enabled {
		if err := validateURLWithCache(cfg.WebSocketURL, "ws"); err != nil {
			return fmt.Errorf("%w: websocket_url: %v", ErrInvalidConfig, err)
		}
	}
	for name, raw := range map[string]string{
		"dexscreener_url": cfg.DexscreenerURL,
		"birdeye_url":     cfg.BirdeyeURL,
		"llm_url":         cfg.LLMURL,
		"jupiter_url":     cfg.JupiterURL,
	} {
		if err := validateURLWithCache(raw, "http"); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
		}
	}
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("%w: http_addr is empty", ErrInvalidConfig)
	}
	if cfg.TradingConfigPath == "" {
		return fmt.Errorf("%w: trading_config_path is empty", ErrInvalidConfig)
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.ScanIntervalSec <= 0 {
		return fmt.Errorf("%w: invalid scan_interval_sec", ErrInvalidConfig)
	}
	if cfg.EventBufferSize <= 0 {
		return fmt.Errorf("%w: invalid event_buffer_size", ErrInvalidConfig)
	}
	if cfg.ExecutionTimeoutMs <= 0 {
		return fmt.Errorf("%w: invalid execution_timeout_ms", ErrInvalidConfig)
	}
	s := cfg.Surveillance
	if s.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("%w: invalid surveillance.max_reconnect_attempts", ErrInvalidConfig)
	}
	if s.InitialBackoffMs <= 0 || s.MaxBackoffMs < s.InitialBackoffMs {
		return fmt.Errorf("%w: invalid surveillance backoff window", ErrInvalidConfig)
	}
	if s.InspectTimeoutMs <= 0 {
		return fmt.Errorf("%w: invalid surveillance.inspect_timeout_ms", ErrInvalidConfig)
	}
	if s.PingIntervalSec <= 0 || s.IdleTimeoutSec <= s.PingIntervalSec {
		return fmt.Errorf("%w: surveillance.ping_interval_sec must be below idle_timeout_sec", ErrInvalidConfig)
	}
	if s.MinUptimeSec <= 0 {
		return fmt.Errorf("%w: invalid surveillance.min_uptime_sec", ErrInvalidConfig)
	}
	switch s.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("%w: unknown surveillance.commitment %q", ErrInvalidConfig, s.Commitment)
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}
