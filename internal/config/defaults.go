package config

import "time"

// defaultModels maps each provider to the model used when none is configured.
var defaultModels = map[ProviderType]string{
	ProviderAnthropic: "claude-sonnet-4-5-20250929",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderOllama:    "llama3",
}

// DefaultExcludes are entity globs that never make useful automation targets.
var DefaultExcludes = []string{
	"sensor.*_battery",
	"sensor.*_linkquality",
	"sensor.*_rssi",
	"update.**",
	"button.*_identify",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:          ProviderOpenAI,
		Model:             defaultModels[ProviderOpenAI],
		EmbeddingProvider: "",
		EmbeddingModel:    "",
		DataDir:           ".automind",
		HomeAssistant: HomeAssistantConfig{
			URL: "http://homeassistant.local:8123",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "homeassistant/statestream",
			ClientID:    "automind",
		},
		Notifications: NotificationConfig{
			MinConfidence: 0.7,
		},
		Entities: EntityFilterConfig{
			Include: []string{"**"},
			Exclude: DefaultExcludes,
		},
		Patterns: PatternConfig{
			MinSupport:    3,
			MinConfidence: 0.6,
			MaxOffset:     2 * time.Minute,
			HistoryWindow: 14 * 24 * time.Hour,
		},
		Synergy: SynergyConfig{
			MinConfidence:                0.5,
			DefaultConfidenceWithArea:    0.9,
			DefaultConfidenceWithoutArea: 0.7,
			FrequencyWeight:              0.4,
			EntityWeight:                 0.2,
			BenefitWeight:                0.4,
			TimingWeight:                 0.3,
			DiversityWeight:              0.2,
			Limit:                        20,
		},
		Clarification: ClarifyConfig{
			SessionTimeout: 10 * time.Minute,
			SweepInterval:  time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:     1,
			InitialBackoff: 500 * time.Millisecond,
			Timeout:        30 * time.Second,
		},
		DetectionInterval: 6 * time.Hour,
		MaxConcurrency:    4,
		RateLimitRPM:      30,
	}
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider ProviderType) string {
	return defaultModels[provider]
}
