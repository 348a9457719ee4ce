package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	// DefaultEmbeddingModel is the default model for generating embeddings.
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions matches the dimensionality the topic model
	// was trained on (MiniLM-compatible, Matryoshka-truncated).
	DefaultEmbeddingDimensions = int32(384)
)

// Provider turns normalized text into a fixed-length numeric vector.
// Implementations must be deterministic for identical normalized input so
// the content-addressed cache stays meaningful.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// NormalizeText canonicalizes a text snippet before hashing or embedding:
// trimmed, lower-cased, inner whitespace collapsed to single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ContentHash returns the stable content hash of the normalized text:
// a sha256 digest rendered as lowercase hex. Identical text always maps
// to the same hash, independent of embedding dimensionality.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// GeminiProvider generates embeddings through the Gemini API.
type GeminiProvider struct {
	client     *genai.Client
	model      string
	dimensions int32
}

// NewGeminiProvider creates an embedding provider backed by Gemini.
func NewGeminiProvider(ctx context.Context, apiKey, model string, dimensions int32) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required for embedding generation")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{client: client, model: model, dimensions: dimensions}, nil
}

// Embed generates an embedding for the given text.
func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}

	dims := p.dimensions
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embedding values returned from API")
	}

	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, val := range values {
		embedding[i] = float64(val)
	}

	return embedding, nil
}
