package llm

import (
	"context"
	"fmt"

	"github.com/statquery/statquery/internal/config"
)

// Service is the text-generation capability the workflow depends on. One call
// produces one completion; retry policy lives in the caller.
type Service interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider constants for the supported backends
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// factory builds a Service from configuration.
type factory func(cfg config.LLMConfig) (Service, error)

// registry maps a provider key to its factory. Resolution happens once at
// startup in NewService.
var registry = map[string]factory{
	ProviderOpenAI:    newOpenAIClient,
	ProviderAnthropic: newAnthropicClient,
	ProviderOllama:    newOllamaClient,
}

// NewService resolves the configured provider from the registry.
func NewService(cfg config.LLMConfig) (Service, error) {
	build, ok := registry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return build(cfg)
}

// Providers returns the registered provider names.
func Providers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	return names
}
