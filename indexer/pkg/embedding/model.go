package embedding

import (
	"context"
	"fmt"
	"sort"
)

// Model describes an embedding model the pipeline knows how to price and
// validate.
type Model struct {
	Name             string
	Provider         string
	Dimensions       int
	PricePer1KTokens float64
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultModel = "text-embedding-3-small"
)

var models = map[string]Model{
	"text-embedding-3-small": {Name: "text-embedding-3-small", Provider: ProviderOpenAI, Dimensions: 1536, PricePer1KTokens: 0.00002},
	"text-embedding-3-large": {Name: "text-embedding-3-large", Provider: ProviderOpenAI, Dimensions: 3072, PricePer1KTokens: 0.00013},
	"text-embedding-ada-002": {Name: "text-embedding-ada-002", Provider: ProviderOpenAI, Dimensions: 1536, PricePer1KTokens: 0.0001},
	"gemini-embedding-001":   {Name: "gemini-embedding-001", Provider: ProviderGemini, Dimensions: 768, PricePer1KTokens: 0.00015},
}

// LookupModel returns the registered model with the given name.
func LookupModel(name string) (Model, error) {
	m, ok := models[name]
	if !ok {
		return Model{}, fmt.Errorf("unknown embedding model %q (known: %v)", name, ModelNames())
	}
	return m, nil
}

func ModelNames() []string {
	names := make([]string, 0, len(models))
	for n := range models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Cost prices a token count for this model.
func (m Model) Cost(tokens int64) float64 {
	return float64(tokens) / 1000 * m.PricePer1KTokens
}

// ProviderConfig carries credentials for every supported provider; only the
// one matching the model is used.
type ProviderConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string

	// ForQueries selects query-side task types where the provider has them.
	ForQueries bool
}

// NewProvider constructs the provider that serves model.
func NewProvider(ctx context.Context, model Model, cfg ProviderConfig) (Provider, error) {
	switch model.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.ForQueries)
	default:
		return nil, fmt.Errorf("no provider for model %s", model.Name)
	}
}
