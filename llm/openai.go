package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smallnest/datanexus/log"
)

// ErrNotSetAuth is returned when no API key is available.
var ErrNotSetAuth = errors.New("api key is not set")

type options struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	maxRetries     int
}

// Option configures the OpenAI client.
type Option func(*options)

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(o *options) { o.apiKey = apiKey }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *options) { o.baseURL = baseURL }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *options) { o.embeddingModel = model }
}

// WithMaxRetries bounds the retry loop for transient failures.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// OpenAIClient talks to an OpenAI-compatible chat completion API. Transient
// failures (rate limits, 5xx, network errors) are retried with exponential
// backoff up to the configured bound.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	maxRetries     int
	logger         log.Logger
}

var (
	_ Client   = (*OpenAIClient)(nil)
	_ Embedder = (*OpenAIClient)(nil)
)

// NewOpenAIClient builds a client. The API key may come from WithAPIKey or
// the OPENAI_API_KEY environment variable.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	o := &options{
		apiKey:         os.Getenv("OPENAI_API_KEY"),
		model:          openai.GPT4oMini,
		embeddingModel: string(openai.SmallEmbedding3),
		maxRetries:     3,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.apiKey == "" {
		return nil, fmt.Errorf(`%w
You can pass auth info by using llm.NewOpenAIClient(llm.WithAPIKey("{API Key}"))
or
export OPENAI_API_KEY={API Key}`, ErrNotSetAuth)
	}

	cfg := openai.DefaultConfig(o.apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(cfg),
		model:          o.model,
		embeddingModel: o.embeddingModel,
		maxRetries:     o.maxRetries,
		logger:         log.GetDefaultLogger(),
	}, nil
}

// Invoke implements Client.
func (c *OpenAIClient) Invoke(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	var callOpts CallOptions
	for _, opt := range opts {
		opt(&callOpts)
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	if callOpts.Temperature > 0 {
		req.Temperature = callOpts.Temperature
	}
	if callOpts.MaxTokens > 0 {
		req.MaxTokens = callOpts.MaxTokens
	}
	if callOpts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var resp openai.ChatCompletionResponse
	err := c.withRetry(ctx, "chat completion", func() error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// CreateEmbedding implements Embedder.
func (c *OpenAIClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openai.EmbeddingResponse
	err := c.withRetry(ctx, "embedding", func() error {
		var err error
		resp, err = c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.embeddingModel),
			Input: texts,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

func (c *OpenAIClient) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Second * time.Duration(1<<(attempt-1))
			c.logger.Warn("%s failed, retrying in %s (attempt %d/%d): %v", op, delay, attempt, c.maxRetries, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
