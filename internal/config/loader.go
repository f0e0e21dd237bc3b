// Package config provides typed configuration for the metriclens CLI and
// server. Defaults are registered by the command layer through viper; this
// package decodes, validates, and resolves derived pieces such as the
// effective rate tier.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/metriclens/metriclens/internal/core"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// Load decodes the merged viper state into a typed Config and stores it
// as the current application configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe).
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.Extraction.Margin <= 0 || c.Extraction.Margin > 1 {
		return fmt.Errorf("extraction.margin must be in (0, 1], got %v", c.Extraction.Margin)
	}
	if c.Extraction.CacheCapacity < 1 {
		return fmt.Errorf("extraction.cache_capacity must be positive, got %d", c.Extraction.CacheCapacity)
	}
	if c.Extraction.RetryMaxAttempts < 1 {
		return fmt.Errorf("extraction.retry_max_attempts must be positive, got %d", c.Extraction.RetryMaxAttempts)
	}
	if c.Extraction.Workers < 1 {
		return fmt.Errorf("extraction.workers must be positive, got %d", c.Extraction.Workers)
	}
	if c.Extraction.LookbackDays < 1 {
		return fmt.Errorf("extraction.lookback_days must be positive, got %d", c.Extraction.LookbackDays)
	}
	return nil
}

// ResolveTier returns the advertised rate tier named by the config,
// scaled by the configured safety margin. A tier file, when set,
// replaces the built-in tier table entirely.
func (c *Config) ResolveTier() (core.RateTier, error) {
	tiers := core.BuiltInTiers
	if strings.TrimSpace(c.Extraction.TierFile) != "" {
		loaded, err := LoadTierFile(c.Extraction.TierFile)
		if err != nil {
			return core.RateTier{}, err
		}
		tiers = loaded
	}

	tier, ok := tiers[strings.ToLower(strings.TrimSpace(c.Extraction.Tier))]
	if !ok {
		known := make([]string, 0, len(tiers))
		for name := range tiers {
			known = append(known, name)
		}
		sort.Strings(known)
		return core.RateTier{}, fmt.Errorf("unknown rate tier %q (known: %s)",
			c.Extraction.Tier, strings.Join(known, ", "))
	}

	return tier.WithMargin(c.Extraction.Margin), nil
}

// LoadTierFile reads a YAML tier table keyed by tier name.
func LoadTierFile(path string) (map[string]core.RateTier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tier file: %w", err)
	}

	var raw map[string]core.RateTier
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tier file %s: %w", path, err)
	}

	tiers := make(map[string]core.RateTier, len(raw))
	for name, tier := range raw {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if tier.PerSecond < 1 || tier.PerMinute < 1 {
			return nil, fmt.Errorf("tier file %s: tier %q has non-positive limits", path, name)
		}
		tier.Name = key
		tiers[key] = tier
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tier file %s: no tiers defined", path)
	}
	return tiers, nil
}
