// internal/config/trading.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TradingConfig holds the thresholds consumed by the control loop. It is
// replaced as a whole; readers keep the copy they got for a full cycle.
type TradingConfig struct {
	MinLiquidity          float64 `mapstructure:"min_liquidity" json:"min_liquidity"`
	MaxAgeHours           float64 `mapstructure:"max_age_hours" json:"max_age_hours"`
	MinVolume24h          float64 `mapstructure:"min_volume_24h" json:"min_volume_24h"`
	MinAIProbabilityScore float64 `mapstructure:"min_ai_probability_score" json:"min_ai_probability_score"`
	MaxRiskLevel          string  `mapstructure:"max_risk_level" json:"max_risk_level"`
	BuyAmountSOL          float64 `mapstructure:"buy_amount_sol" json:"buy_amount_sol"`
	Slippage              float64 `mapstructure:"slippage" json:"slippage"`
	ProfitTargetX         float64 `mapstructure:"profit_target_x" json:"profit_target_x"`
	StopLossPercentage    float64 `mapstructure:"stop_loss_percentage" json:"stop_loss_percentage"`
}

// DefaultTradingConfig mirrors the values the auto-trader ships with.
func DefaultTradingConfig() TradingConfig {
	return TradingConfig{
		MinLiquidity:          10000,
		MaxAgeHours:           24,
		MinVolume24h:          50000,
		MinAIProbabilityScore: 70,
		MaxRiskLevel:          "Medium",
		BuyAmountSOL:          0.01,
		Slippage:              1.0,
		ProfitTargetX:         2.0,
		StopLossPercentage:    0.20,
	}
}

// Validate enforces the TradingConfig invariants.
func (c TradingConfig) Validate() error {
	for name, value := range map[string]float64{
		"min_liquidity":            c.MinLiquidity,
		"max_age_hours":            c.MaxAgeHours,
		"min_volume_24h":           c.MinVolume24h,
		"min_ai_probability_score": c.MinAIProbabilityScore,
		"buy_amount_sol":           c.BuyAmountSOL,
		"slippage":                 c.Slippage,
		"profit_target_x":          c.ProfitTargetX,
		"stop_loss_percentage":     c.StopLossPercentage,
	} {
		if value < 0 {
			return fmt.Errorf("%w: %s must be non-negative", ErrInvalidConfig, name)
		}
	}
	if c.MinAIProbabilityScore > 100 {
		return fmt.Errorf("%w: min_ai_probability_score must be within 0..100", ErrInvalidConfig)
	}
	if c.Slippage > 100 {
		return fmt.Errorf("%w: slippage is a percentage and must not exceed 100", ErrInvalidConfig)
	}
	if c.ProfitTargetX <= 1 {
		return fmt.Errorf("%w: profit_target_x must be greater than 1", ErrInvalidConfig)
	}
	if c.StopLossPercentage <= 0 || c.StopLossPercentage >= 1 {
		return fmt.Errorf("%w: stop_loss_percentage must be within (0,1)", ErrInvalidConfig)
	}
	switch c.MaxRiskLevel {
	case "Low", "Medium", "High":
	default:
		return fmt.Errorf("%w: max_risk_level must be Low, Medium or High", ErrInvalidConfig)
	}
	return nil
}

func (c TradingConfig) toMap() map[string]interface{} {
	return map[string]interface{}{
		"min_liquidity":            c.MinLiquidity,
		"max_age_hours":            c.MaxAgeHours,
		"min_volume_24h":           c.MinVolume24h,
		"min_ai_probability_score": c.MinAIProbabilityScore,
		"max_risk_level":           c.MaxRiskLevel,
		"buy_amount_sol":           c.BuyAmountSOL,
		"slippage":                 c.Slippage,
		"profit_target_x":          c.ProfitTargetX,
		"stop_loss_percentage":     c.StopLossPercentage,
	}
}

// TradingStore loads, merges and persists TradingConfig as a JSON document.
type TradingStore struct {
	path   string
	logger *zap.Logger

	// saveMu serializes read-merge-write cycles.
	saveMu sync.Mutex

	mu      sync.RWMutex
	current TradingConfig
}

// NewTradingStore creates a store backed by path. Call Load before use.
func NewTradingStore(path string, logger *zap.Logger) *TradingStore {
	return &TradingStore{
		path:    path,
		logger:  logger.Named("trading_config"),
		current: DefaultTradingConfig(),
	}
}

// Load reads the persisted config. A missing, unreadable or invalid file
// falls back to the defaults.
func (s *TradingStore) Load() (TradingConfig, error) {
	cfg := DefaultTradingConfig()

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		s.logger.Info("No trading config on disk, using defaults", zap.String("path", s.path))
		s.replace(cfg)
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	for key, value := range cfg.toMap() {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		s.logger.Error("Failed to read trading config, using defaults",
			zap.String("path", s.path), zap.Error(err))
		s.replace(cfg)
		return cfg, nil
	}

	var loaded TradingConfig
	if err := v.Unmarshal(&loaded); err != nil {
		s.logger.Error("Failed to decode trading config, using defaults",
			zap.String("path", s.path), zap.Error(err))
		s.replace(cfg)
		return cfg, nil
	}
	if err := loaded.Validate(); err != nil {
		s.logger.Error("Persisted trading config is invalid, using defaults",
			zap.String("path", s.path), zap.Error(err))
		s.replace(cfg)
		return cfg, nil
	}

	s.logger.Info("Loaded trading config", zap.String("path", s.path))
	s.replace(loaded)
	return loaded, nil
}

// Current returns the active config by value.
func (s *TradingStore) Current() TradingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save validates, persists and then activates cfg.
func (s *TradingStore) Save(cfg TradingConfig) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.save(cfg)
}

func (s *TradingStore) save(cfg TradingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.write(cfg); err != nil {
		return err
	}
	s.replace(cfg)
	s.logger.Info("Saved trading config", zap.String("path", s.path))
	return nil
}

// Update merges partial over the current config and persists the result.
// Unknown keys and values of the wrong type are rejected without side effects.
func (s *TradingStore) Update(partial map[string]interface{}) (TradingConfig, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	current := s.Current()
	merged := current.toMap()

	var unknown []string
	for key, value := range partial {
		normalized := strings.ToLower(strings.TrimSpace(key))
		if _, ok := merged[normalized]; !ok {
			unknown = append(unknown, key)
			continue
		}
		merged[normalized] = value
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return current, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(unknown, ", "))
	}

	v := viper.New()
	if err := v.MergeConfigMap(merged); err != nil {
		return current, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var next TradingConfig
	if err := v.Unmarshal(&next); err != nil {
		return current, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := s.save(next); err != nil {
		return current, err
	}
	return next, nil
}

func (s *TradingStore) write(cfg TradingConfig) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("json")
	for key, value := range cfg.toMap() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write trading config: %w", err)
	}
	return nil
}

func (s *TradingStore) replace(cfg TradingConfig) {
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
}
