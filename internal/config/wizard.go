package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to automind! Let's connect it to your home.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Home Assistant URL.
	urlPrompt := promptui.Prompt{
		Label:    "Home Assistant URL",
		Default:  cfg.HomeAssistant.URL,
		Validate: validateURL,
	}
	haURL, err := urlPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("home assistant url: %w", err)
	}
	cfg.HomeAssistant.URL = strings.TrimRight(haURL, "/")

	// 2. Completion provider.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider for request parsing",
		Items: []string{"openai", "anthropic", "ollama", "none"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)
	cfg.Model = DefaultModel(cfg.Provider)

	// 3. Optional MQTT broker for statestream telemetry.
	brokerPrompt := promptui.Prompt{
		Label:   "MQTT broker for statestream (blank to skip)",
		Default: "",
	}
	broker, err := brokerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("mqtt broker: %w", err)
	}
	cfg.MQTT.Broker = strings.TrimSpace(broker)

	// 4. Extra entity excludes.
	excludePrompt := promptui.Prompt{
		Label:   "Extra entity exclude globs (comma-separated, blank for defaults)",
		Default: "",
	}
	excludeStr, err := excludePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	if excludeStr != "" {
		cfg.Entities.Exclude = append(cfg.Entities.Exclude, splitAndTrim(excludeStr)...)
	}

	if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running automind.\n", envVar)
	}
	if os.Getenv("HASS_TOKEN") == "" {
		fmt.Println("Note: Set HASS_TOKEN to a Home Assistant long-lived access token.")
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("enter a full URL such as http://homeassistant.local:8123")
	}
	return nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
