// Package llm implements the two external gateways the core consumes:
// the embedding gateway and the intent/narrative language-model gateway.
// Both are treated as blocking calls guarded by a retry policy and a
// circuit breaker.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/cache/redis"
	"github.com/analytical-agent/backend/internal/embedding"
	"github.com/analytical-agent/backend/pkg/apperr"
	"github.com/analytical-agent/backend/pkg/circuitbreaker"
	"github.com/analytical-agent/backend/pkg/logger"
	"github.com/analytical-agent/backend/pkg/retry"
	"github.com/analytical-agent/backend/pkg/utils"
)

// SupportedIntents is the closed set the intent classifier may return.
var SupportedIntents = []string{
	"compare_averages",
	"filter_threshold",
	"sort",
	"top_n",
	"compare_top",
	"explain_row",
	"document_query",
}

// Intent is the structured classification of a natural-language query.
type Intent struct {
	Intent     string         `json:"intent"`
	Parameters map[string]any `json:"parameters"`
}

// SourceContext summarizes one loaded source for the classifier prompt.
type SourceContext struct {
	ID             string
	Kind           string
	Columns        []string
	NumericColumns []string
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cache          *redis.Client
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

var _ embedding.Embedder = (*Client)(nil)

type Option func(*Client)

// WithEmbeddingCache enables caching of embedding vectors keyed by a
// hash of the input text.
func WithEmbeddingCache(cache *redis.Client) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int, opts ...Option) *Client {
	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	c := &Client{
		client:         openai.NewClient(apiKey),
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}
	for _, opt := range opts {
		opt(c)
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return c
}

// Embed returns the embedding vector for text. The role is recorded for
// providers with asymmetric document/query encoders; the OpenAI API
// uses one encoder for both.
func (c *Client) Embed(ctx context.Context, text string, role embedding.Role) ([]float32, error) {
	if c.cache != nil {
		key := utils.HashString(string(role) + ":" + text)
		if cached, ok, err := c.cache.GetEmbedding(ctx, key); err == nil && ok {
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var result []float32
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: []string{text},
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			result = make([]float32, len(resp.Data[0].Embedding))
			copy(result, resp.Data[0].Embedding)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		key := utils.HashString(string(role) + ":" + text)
		if err := c.cache.SetEmbedding(ctx, key, result, 24*time.Hour); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return result, nil
}

// EmbedBatch embeds texts in API-sized batches, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, role embedding.Role) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))

	const batchSize = 100
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()

				resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(batch))
				}

				for _, data := range resp.Data {
					vec := make([]float32, len(data.Embedding))
					copy(vec, data.Embedding)
					embeddings = append(embeddings, vec)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated",
		zap.Int("count", len(embeddings)),
		zap.String("role", string(role)),
	)

	return embeddings, nil
}

// ClassifyIntent parses a natural-language query into one of the
// supported intents plus its parameter map. Malformed model output is
// reported as an unsupported-intent error, never retried here.
func (c *Client) ClassifyIntent(ctx context.Context, userQuery string, sources []SourceContext) (*Intent, error) {
	var sb strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&sb, "- Source ID: %s (%s), Columns: %s, Numeric columns: %s\n",
			s.ID, s.Kind, strings.Join(s.Columns, ", "), strings.Join(s.NumericColumns, ", "))
	}

	systemPrompt := fmt.Sprintf(`You are an intent parser for an analytical agent. Parse the user query into a JSON action.

Available sources:
%s
Supported intents:
1. compare_averages - Compare average values of a column across sources or groups
   Parameters: {"column": str, "source1_id": str|null, "source2_id": str|null, "group_by": str|null}

2. filter_threshold - Filter rows based on a numeric threshold
   Parameters: {"column": str, "operator": str (>, <, >=, <=, ==, !=), "value": float, "source_id": str|null}

3. sort - Sort data by column
   Parameters: {"column": str, "ascending": bool, "source_id": str|null, "limit": int|null}

4. top_n - Get top N rows by column value
   Parameters: {"column": str, "n": int, "ascending": bool, "source_id": str|null}

5. compare_top - Compare top N items across two sources
   Parameters: {"column": str, "n": int, "source1_id": str|null, "source2_id": str|null}

6. explain_row - Find and explain table rows using semantic search
   Parameters: {"query": str, "source_id": str|null, "top_k": int}

7. document_query - Answer a question from document content
   Parameters: {"query": str, "source_id": str|null, "top_k": int}

If the query does not match any intent, return {"intent": "unsupported", "parameters": {}}.
Return ONLY valid JSON with keys "intent" and "parameters", no explanation.`, sb.String())

	content, err := c.complete(ctx, systemPrompt, userQuery, c.temperature, c.maxTokens)
	if err != nil {
		return nil, err
	}

	var intent Intent
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &intent); err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnsupportedIntent, "intent classifier returned malformed JSON")
	}
	if intent.Parameters == nil {
		intent.Parameters = make(map[string]any)
	}

	logger.Debug("Intent classified",
		zap.String("intent", intent.Intent),
		zap.Any("parameters", intent.Parameters),
	)

	return &intent, nil
}

// Narrate turns computed results into a short prose explanation.
func (c *Client) Narrate(ctx context.Context, intent string, parameters map[string]any, resultRows []map[string]any, numbers map[string]any) (string, error) {
	preview := resultRows
	if len(preview) > 5 {
		preview = preview[:5]
	}
	previewJSON, _ := json.Marshal(preview)
	numbersJSON, _ := json.Marshal(numbers)
	paramsJSON, _ := json.Marshal(parameters)

	systemPrompt := `Generate a clear, concise narrative explanation of analysis results.
Explain what analysis was performed, highlight key findings, and reference
specific values from the computed numbers. Use 2-4 sentences. Generate only
the narrative text, no preamble.`

	userPrompt := fmt.Sprintf("Intent: %s\nParameters: %s\n\nComputed numbers: %s\n\nResult preview (first 5 rows): %s",
		intent, paramsJSON, numbersJSON, previewJSON)

	return c.complete(ctx, systemPrompt, userPrompt, 0.3, 500)
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float32, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var content string
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: c.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(content), nil
}

// stripCodeFence removes a surrounding markdown code block, which chat
// models often wrap JSON in despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
