package llm

import (
	"log/slog"

	"github.com/felixgeelhaar/nosubvo/internal/config"
)

// FromConfig builds the registry for the configured provider. A provider
// that lacks credentials is skipped, leaving callers on their fallbacks.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Registry {
	r := NewRegistry()
	rc := DefaultResilientConfig()
	rc.Logger = logger

	switch cfg.LLMProvider {
	case "openai":
		if cfg.LLMAPIKey == "" {
			logger.Warn("LLM_API_KEY not set; question generation uses the fallback question")
			return r
		}
		r.Register("openai", NewResilientProvider(NewOpenAIProvider(OpenAIConfig{
			APIKey: cfg.LLMAPIKey,
			Model:  cfg.LLMModel,
		}), rc))
		_ = r.SetDefault("openai")

	case "ollama":
		model := cfg.LLMModel
		if model == DefaultOpenAIModel {
			model = ""
		}
		r.Register("ollama", NewResilientProvider(NewOllamaProvider(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   model,
		}), rc))
		_ = r.SetDefault("ollama")
	}

	return r
}
