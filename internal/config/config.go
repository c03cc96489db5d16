package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment overrides. Nested keys use a double
// underscore: AUTOMIND_SYNERGY__MIN_CONFIDENCE -> synergy.min_confidence.
const envPrefix = "AUTOMIND_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (AUTOMIND_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// A provider switch without an explicit model picks that provider's default.
	if !k.Exists("model") {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if cfg.HomeAssistant.Token == "" {
		cfg.HomeAssistant.Token = os.Getenv("HASS_TOKEN")
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path. The Home
// Assistant token is never written; it belongs in HASS_TOKEN.
func (c *Config) Save(path string) error {
	out := *c
	out.HomeAssistant.Token = ""
	data, err := yamlv3.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validProviders = map[ProviderType]bool{
	ProviderAnthropic: true,
	ProviderOpenAI:    true,
	ProviderOllama:    true,
	ProviderNone:      true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q: must be one of anthropic, openai, ollama, none", c.Provider)
	}
	if c.Provider != ProviderNone && c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.EmbeddingProvider != "" && c.EmbeddingProvider != ProviderOpenAI && c.EmbeddingProvider != ProviderOllama {
		return fmt.Errorf("invalid embedding_provider %q", c.EmbeddingProvider)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Patterns.MinSupport < 1 {
		return fmt.Errorf("patterns.min_support must be at least 1")
	}
	if err := unitInterval("patterns.min_confidence", c.Patterns.MinConfidence); err != nil {
		return err
	}
	if c.Patterns.MaxOffset <= 0 {
		return fmt.Errorf("patterns.max_offset must be positive")
	}
	if c.Patterns.HistoryWindow <= 0 {
		return fmt.Errorf("patterns.history_window must be positive")
	}

	for name, v := range map[string]float64{
		"synergy.min_confidence":                  c.Synergy.MinConfidence,
		"synergy.default_confidence_with_area":    c.Synergy.DefaultConfidenceWithArea,
		"synergy.default_confidence_without_area": c.Synergy.DefaultConfidenceWithoutArea,
		"notifications.min_confidence":            c.Notifications.MinConfidence,
	} {
		if err := unitInterval(name, v); err != nil {
			return err
		}
	}
	if c.Synergy.FrequencyWeight < 0 || c.Synergy.EntityWeight < 0 || c.Synergy.BenefitWeight < 0 ||
		c.Synergy.TimingWeight < 0 || c.Synergy.DiversityWeight < 0 {
		return fmt.Errorf("synergy weights must be non-negative")
	}

	for _, hook := range c.Notifications.Webhooks {
		if err := validateURL(hook); err != nil {
			return fmt.Errorf("notifications.webhooks: %q: %w", hook, err)
		}
	}

	if c.Clarification.SessionTimeout <= 0 {
		return fmt.Errorf("clarification.session_timeout must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be non-negative")
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be non-negative")
	}
	return nil
}

func unitInterval(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", name, v)
	}
	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}
