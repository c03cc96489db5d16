package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

const defaultOllamaHost = "http://localhost:11434"

// constructors maps a provider name to a function building it from the
// environment.
var constructors = map[string]func(model string) (Provider, error){
	"anthropic": func(model string) (Provider, error) {
		key, err := requireEnv("ANTHROPIC_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewAnthropicProvider(key, model), nil
	},
	"openai": func(model string) (Provider, error) {
		key, err := requireEnv("OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			return NewOpenAIProviderWithBaseURL(key, base, model), nil
		}
		return NewOpenAIProvider(key, model), nil
	},
	"ollama": func(model string) (Provider, error) {
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = defaultOllamaHost
		}
		return NewOllamaProvider(host, model), nil
	},
}

// NewProvider builds the completion provider named by providerType. API keys
// and endpoints come from the environment.
func NewProvider(providerType, model string) (Provider, error) {
	build, ok := constructors[providerType]
	if !ok {
		names := make([]string, 0, len(constructors))
		for n := range constructors {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unsupported provider %q (want one of %s)", providerType, strings.Join(names, ", "))
	}
	return build(model)
}

func requireEnv(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("%s environment variable is not set", name)
	}
	return v, nil
}
