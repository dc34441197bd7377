package categorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is the embedding model used when none is configured.
const DefaultGeminiModel = "text-embedding-004"

// GeminiEmbedder produces embeddings through the Gemini API.
type GeminiEmbedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	retry  common.RetryOptions
}

// NewGeminiEmbedder creates a Gemini-backed embedder.
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", common.ErrMissingConfig)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiEmbedder{
		client: client,
		model:  client.EmbeddingModel(modelName),
		retry: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
	}, nil
}

// Embed implements service.Embedder.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var values []float32
	err := common.WithRetry(ctx, func() error {
		resp, err := g.model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: true}
		}
		if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return &common.RetryableError{Err: errors.New("empty embedding response"), Retryable: false}
		}
		values = resp.Embedding.Values
		return nil
	}, g.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	return values, nil
}

// Close releases the underlying client.
func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}
