package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider builds a provider for the OpenAI embeddings endpoint.
// baseURL may point at any compatible server. SDK retries are disabled since
// the Client retries whole batches itself.
func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}, nil
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

func (p *OpenAIProvider) Embed(ctx context.Context, model Model, texts []string) (*Response, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model.Name),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{
				Provider: ProviderOpenAI,
				Model:    model.Name,
				Status:   apiErr.StatusCode,
				Wait:     parseRetryAfter(apiErr.Response),
				Err:      err,
			}
		}
		return nil, err
	}

	out := &Response{
		Vectors: make([][]float32, len(texts)),
		Tokens:  resp.Usage.PromptTokens,
	}
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("openai returned embedding index %d for %d inputs", d.Index, len(texts))
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		out.Vectors[d.Index] = v
	}
	if out.Tokens == 0 {
		out.Tokens = estimateTokens(texts)
	}
	return out, nil
}
