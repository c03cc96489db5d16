package config

import "time"

// ProviderType identifies a completion provider.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderOllama    ProviderType = "ollama"
	// ProviderNone disables LLM-assisted parsing; requests the rule-based
	// parser cannot handle go straight to clarification.
	ProviderNone ProviderType = "none"
)

// Config is the top-level automind configuration, corresponding to .automind.yml.
type Config struct {
	Provider          ProviderType        `yaml:"provider" koanf:"provider"`
	Model             string              `yaml:"model" koanf:"model"`
	EmbeddingProvider ProviderType        `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel    string              `yaml:"embedding_model" koanf:"embedding_model"`
	DataDir           string              `yaml:"data_dir" koanf:"data_dir"`
	HomeAssistant     HomeAssistantConfig `yaml:"home_assistant" koanf:"home_assistant"`
	MQTT              MQTTConfig          `yaml:"mqtt" koanf:"mqtt"`
	Notifications     NotificationConfig  `yaml:"notifications" koanf:"notifications"`
	Entities          EntityFilterConfig  `yaml:"entities" koanf:"entities"`
	Patterns          PatternConfig       `yaml:"patterns" koanf:"patterns"`
	Synergy           SynergyConfig       `yaml:"synergy" koanf:"synergy"`
	Clarification     ClarifyConfig       `yaml:"clarification" koanf:"clarification"`
	Retry             RetryConfig         `yaml:"retry" koanf:"retry"`
	DetectionInterval time.Duration       `yaml:"detection_interval" koanf:"detection_interval"`
	MaxConcurrency    int                 `yaml:"max_concurrency" koanf:"max_concurrency"`
	RateLimitRPM      int                 `yaml:"rate_limit_rpm" koanf:"rate_limit_rpm"`
}

// HomeAssistantConfig points at the Home Assistant instance used as entity
// registry, history source and automation runtime.
type HomeAssistantConfig struct {
	URL   string `yaml:"url" koanf:"url"`
	Token string `yaml:"token" koanf:"token"`
	// RegistryFile, when set, replaces the live registry with a YAML fixture.
	RegistryFile string `yaml:"registry_file" koanf:"registry_file"`
}

// MQTTConfig configures statestream ingestion.
type MQTTConfig struct {
	Broker      string `yaml:"broker" koanf:"broker"`
	TopicPrefix string `yaml:"topic_prefix" koanf:"topic_prefix"`
	ClientID    string `yaml:"client_id" koanf:"client_id"`
}

// NotificationConfig lists webhooks told about new suggestions.
type NotificationConfig struct {
	Webhooks      []string `yaml:"webhooks" koanf:"webhooks"`
	MinConfidence float64  `yaml:"min_confidence" koanf:"min_confidence"`
}

// EntityFilterConfig holds doublestar globs matched against entity ids.
type EntityFilterConfig struct {
	Include []string `yaml:"include" koanf:"include"`
	Exclude []string `yaml:"exclude" koanf:"exclude"`
}

// PatternConfig tunes the pattern detector.
type PatternConfig struct {
	MinSupport    int           `yaml:"min_support" koanf:"min_support"`
	MinConfidence float64       `yaml:"min_confidence" koanf:"min_confidence"`
	MaxOffset     time.Duration `yaml:"max_offset" koanf:"max_offset"`
	HistoryWindow time.Duration `yaml:"history_window" koanf:"history_window"`
}

// SynergyConfig tunes synergy scoring, defaults and filtering.
type SynergyConfig struct {
	MinConfidence                float64 `yaml:"min_confidence" koanf:"min_confidence"`
	DefaultConfidenceWithArea    float64 `yaml:"default_confidence_with_area" koanf:"default_confidence_with_area"`
	DefaultConfidenceWithoutArea float64 `yaml:"default_confidence_without_area" koanf:"default_confidence_without_area"`
	FrequencyWeight              float64 `yaml:"frequency_weight" koanf:"frequency_weight"`
	EntityWeight                 float64 `yaml:"entity_weight" koanf:"entity_weight"`
	BenefitWeight                float64 `yaml:"benefit_weight" koanf:"benefit_weight"`
	TimingWeight                 float64 `yaml:"timing_weight" koanf:"timing_weight"`
	DiversityWeight              float64 `yaml:"diversity_weight" koanf:"diversity_weight"`
	Limit                        int     `yaml:"limit" koanf:"limit"`
}

// ClarifyConfig controls clarification session lifetime.
type ClarifyConfig struct {
	SessionTimeout time.Duration `yaml:"session_timeout" koanf:"session_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval" koanf:"sweep_interval"`
}

// RetryConfig controls completion provider retries.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries" koanf:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff" koanf:"initial_backoff"`
	Timeout        time.Duration `yaml:"timeout" koanf:"timeout"`
}
