package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	apperrors "github.com/astroflow/astroflow/errors"
)

// Retry configuration defaults.
const (
	defaultMaxRetries  = 3
	defaultInitBackoff = time.Second
	defaultMaxBackoff  = 30 * time.Second
	backoffFactor      = 2.0
)

// OpenAIGenerator implements Generator against an OpenAI-compatible chat
// completions endpoint (OpenRouter in the default deployment).
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int64
	system    string
	retry     RetryConfig
}

// RetryConfig controls retry behavior on transient API failures.
type RetryConfig struct {
	MaxRetries  int
	InitBackoff time.Duration
	MaxBackoff  time.Duration
}

// OpenAIConfig holds configuration for the OpenAI-compatible generator.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // Optional custom endpoint, e.g. https://openrouter.ai/api/v1
	Model   string

	// MaxTokens caps the completion length. Default: 1024.
	MaxTokens int

	// SystemPrompt steers the assistant. Default: ReadingPrompt.
	SystemPrompt string

	Retry RetryConfig
}

// NewOpenAIGenerator creates a generator using the official OpenAI SDK.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = ReadingPrompt
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIGenerator{
		client:    &client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		system:    cfg.SystemPrompt,
		retry:     cfg.Retry,
	}, nil
}

// getRetryConfig returns effective retry settings with defaults.
func (g *OpenAIGenerator) getRetryConfig() (maxRetries int, initBackoff, maxBackoff time.Duration) {
	maxRetries = g.retry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	initBackoff = g.retry.InitBackoff
	if initBackoff <= 0 {
		initBackoff = defaultInitBackoff
	}
	maxBackoff = g.retry.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return
}

// Generate implements the Generator interface.
func (g *OpenAIGenerator) Generate(ctx context.Context, input, extra string) (string, error) {
	user := input
	if extra != "" {
		user = "Context: " + extra + "\n\n" + input
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.system),
			openai.UserMessage(user),
		},
		MaxTokens: openai.Int(g.maxTokens),
	}

	maxRetries, initBackoff, maxBackoff := g.getRetryConfig()
	var resp *openai.ChatCompletion
	var err error
	backoff := initBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err = g.client.Chat.Completions.New(ctx, params)
		if err == nil {
			break
		}

		if isBillingError(err) {
			return "", apperrors.WrapWithCode(err, apperrors.CodeGeneration, "billing/payment error (fatal)")
		}
		if !isRetryableError(err) {
			return "", apperrors.WrapWithCode(err, apperrors.CodeGeneration, "completion request failed")
		}
		if attempt == maxRetries {
			return "", apperrors.WrapWithCode(err, apperrors.CodeGeneration,
				fmt.Sprintf("completion request failed after %d retries", maxRetries))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", apperrors.New(apperrors.CodeGeneration, "empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// isRateLimitError checks if the error is a rate limit error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "capacity")
}

// isServerError checks if the error is a transient server error (5xx).
func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "temporarily unavailable")
}

// isRetryableError checks if the error is retryable (rate limit or server error).
func isRetryableError(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

// isBillingError checks if the error is a billing/payment/quota error (fatal, no retry).
func isBillingError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "credits") ||
		strings.Contains(errStr, "quota exceeded") ||
		strings.Contains(errStr, "402")
}

// Ensure OpenAIGenerator implements Generator.
var _ Generator = (*OpenAIGenerator)(nil)
