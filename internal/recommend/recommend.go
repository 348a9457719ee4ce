package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"horizon/internal/core"
)

const (
	// DefaultGeminiModel is the default Gemini model for recommendation text.
	DefaultGeminiModel = "gemini-flash-lite-latest"
	// DefaultOpenAIModel is the default OpenAI model for recommendation text.
	DefaultOpenAIModel = "gpt-4o-mini"

	// recommendationPromptTemplate frames one day of aggregated consumption
	// for the model. The output is shown to the user as-is.
	recommendationPromptTemplate = `You are a thoughtful reading companion. Based on one day of a user's content consumption, suggest what they might enjoy reading or watching next. Be concrete and concise (3-5 suggestions, one line each). Write only the suggestions, no meta-commentary.

CONSUMPTION SUMMARY FOR %s:
%s`
)

// Backend produces human-readable recommendation text from a day summary.
// Implementations are interchangeable; the scheduler tries a primary and
// at most one fallback.
type Backend interface {
	Name() string
	Generate(ctx context.Context, summary core.BucketSummary) (string, error)
}

// buildPrompt renders a bucket summary into the recommendation prompt.
// Topics are sorted by engagement time so the prompt is deterministic.
func buildPrompt(summary core.BucketSummary) string {
	topics := make([]string, 0, len(summary.TopicTimes))
	for topic := range summary.TopicTimes {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		if summary.TopicTimes[topics[i]] != summary.TopicTimes[topics[j]] {
			return summary.TopicTimes[topics[i]] > summary.TopicTimes[topics[j]]
		}
		return topics[i] < topics[j]
	})

	var body strings.Builder
	body.WriteString(fmt.Sprintf("Total engagement: %.1f minutes\n", float64(summary.TotalMs)/60000))
	for _, topic := range topics {
		minutes := float64(summary.TopicTimes[topic]) / 60000
		body.WriteString(fmt.Sprintf("- %s: %.1f minutes, %d unique posts", topic, minutes, summary.TopicCounts[topic]))
		if avg, ok := summary.ConfidenceAverages[topic]; ok {
			body.WriteString(fmt.Sprintf(" (classifier confidence %.2f)", avg))
		}
		body.WriteString("\n")
	}
	if summary.SamplePostTitle != "" {
		body.WriteString(fmt.Sprintf("Representative post: %q\n", summary.SamplePostTitle))
	}

	return fmt.Sprintf(recommendationPromptTemplate, summary.Day, body.String())
}

// GeminiBackend generates recommendations through the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend creates the Gemini-backed recommendation generator.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{client: client, model: model}, nil
}

// Name identifies the backend in logs and persisted records.
func (b *GeminiBackend) Name() string { return "gemini" }

// Generate produces recommendation text for a day summary.
func (b *GeminiBackend) Generate(ctx context.Context, summary core.BucketSummary) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: buildPrompt(summary)}},
		Role:  "user",
	}}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// OpenAIBackend generates recommendations through the OpenAI API.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend creates the OpenAI-backed recommendation generator.
func NewOpenAIBackend(apiKey, model string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIBackend{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Name identifies the backend in logs and persisted records.
func (b *OpenAIBackend) Name() string { return "openai" }

// Generate produces recommendation text for a day summary.
func (b *OpenAIBackend) Generate(ctx context.Context, summary core.BucketSummary) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(buildPrompt(summary)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from model")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}
