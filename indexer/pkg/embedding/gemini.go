package embedding

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type GeminiProvider struct {
	client   *genai.Client
	taskType string
}

// NewGeminiProvider builds a provider for the Gemini API. Query embeddings use
// the retrieval-query task type; documents use retrieval-document.
func NewGeminiProvider(ctx context.Context, apiKey string, forQueries bool) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	task := taskRetrievalDocument
	if forQueries {
		task = taskRetrievalQuery
	}
	return &GeminiProvider{client: client, taskType: task}, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

func (p *GeminiProvider) Embed(ctx context.Context, model Model, texts []string) (*Response, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	dims := int32(model.Dimensions)
	result, err := p.client.Models.EmbedContent(ctx, model.Name, contents, &genai.EmbedContentConfig{
		TaskType:             p.taskType,
		OutputDimensionality: &dims,
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{Provider: ProviderGemini, Model: model.Name, Status: apiErr.Code, Err: err}
		}
		return nil, err
	}

	out := &Response{
		Vectors: make([][]float32, 0, len(result.Embeddings)),
		Tokens:  estimateTokens(texts),
	}
	for _, e := range result.Embeddings {
		out.Vectors = append(out.Vectors, e.Values)
	}
	return out, nil
}
