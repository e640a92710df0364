package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/pds-matcher/internal/logger"
	"github.com/spigell/pds-matcher/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	providerName = "gemini"

	defaultModel          = "gemini-2.5-flash"
	defaultEmbeddingModel = "gemini-embedding-001"
	defaultMaxRetries     = 3
	defaultRetryBase      = 500 * time.Millisecond
	defaultMaxRetryDelay  = 10 * time.Second
	defaultMaxLogLength   = 200

	embeddingTaskType = "SEMANTIC_SIMILARITY"
	maxEmbedBatch     = 100
)

// wait pauses between attempts; replaced in tests.
var wait = utils.WaitFor

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*(ms|s|sec|secs|second|seconds)\b`)

// modelsAPI is the subset of genai.Models used by the client.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Options configures a Client.
type Options struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    *float32
	MaxRetries     int
	RetryBase      time.Duration
	MaxRetryDelay  time.Duration
	// RequestsPerMinute limits outgoing calls; zero disables the limiter.
	RequestsPerMinute int
	MaxLogLength      int
	Logger            *zap.Logger
}

// Client talks to the Gemini API. It implements both ai.Generator and ai.Embedder.
type Client struct {
	models         modelsAPI
	model          string
	embeddingModel string
	temperature    *float32
	maxRetries     int
	retryBase      time.Duration
	maxRetryDelay  time.Duration
	limiter        *rate.Limiter
	maxLogLen      int
	logger         *zap.Logger
}

// NewClient creates a Client configured for the Gemini API backend.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newClient(client.Models, opts), nil
}

func newClient(models modelsAPI, opts Options) *Client {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	embeddingModel := strings.TrimSpace(opts.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	c := &Client{
		models:         models,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    opts.Temperature,
		maxRetries:     opts.MaxRetries,
		retryBase:      opts.RetryBase,
		maxRetryDelay:  opts.MaxRetryDelay,
		maxLogLen:      opts.MaxLogLength,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryBase <= 0 {
		c.retryBase = defaultRetryBase
	}
	if c.maxRetryDelay <= 0 {
		c.maxRetryDelay = defaultMaxRetryDelay
	}
	if c.maxLogLen <= 0 {
		c.maxLogLen = defaultMaxLogLength
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	c.logger = logger.WithCommonFields(opts.Logger, providerName, model)

	return c
}

// Model returns the generative model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// EmbeddingModel returns the embedding model name.
func (c *Client) EmbeddingModel() string {
	if c == nil {
		return ""
	}
	return c.embeddingModel
}

// GenerateContent sends the prompt to Gemini and returns the joined text of the response.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.models == nil {
		return "", errors.New("gemini client is not initialized")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	var config *genai.GenerateContentConfig
	if c.temperature != nil {
		config = &genai.GenerateContentConfig{Temperature: c.temperature}
	}

	c.logger.Debug("gemini generate content request",
		zap.Int("prompt_length", len(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, c.maxLogLen)),
	)

	var resp *genai.GenerateContentResponse
	err := c.withRetry(ctx, "generate content", func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
		return callErr
	})
	if err != nil {
		return "", err
	}

	output := responseText(resp)
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	c.logger.Debug("gemini generate content response",
		zap.Int("response_length", len(output)),
		zap.String("response_preview", utils.TruncateForLog(output, c.maxLogLen)),
	)

	return output, nil
}

// EmbedText returns the semantic-similarity embedding of text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts with as few requests as the API batch limit allows.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if c == nil || c.models == nil {
		return nil, errors.New("gemini client is not initialized")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	trimmed := make([]string, len(texts))
	for i, text := range texts {
		trimmed[i] = strings.TrimSpace(text)
		if trimmed[i] == "" {
			return nil, errors.New("text must not be empty")
		}
	}

	config := &genai.EmbedContentConfig{TaskType: embeddingTaskType}
	vectors := make([][]float32, 0, len(trimmed))
	for start := 0; start < len(trimmed); start += maxEmbedBatch {
		chunk := trimmed[start:min(start+maxEmbedBatch, len(trimmed))]

		var contents []*genai.Content
		for _, text := range chunk {
			contents = append(contents, genai.Text(text)...)
		}

		var resp *genai.EmbedContentResponse
		err := c.withRetry(ctx, "embed content", func(ctx context.Context) error {
			var callErr error
			resp, callErr = c.models.EmbedContent(ctx, c.embeddingModel, contents, config)
			return callErr
		})
		if err != nil {
			return nil, err
		}

		if resp == nil || len(resp.Embeddings) != len(chunk) {
			return nil, fmt.Errorf("gemini api returned %d embeddings for %d texts", embeddingCount(resp), len(chunk))
		}
		for _, embedding := range resp.Embeddings {
			if embedding == nil || len(embedding.Values) == 0 {
				return nil, errors.New("gemini api returned empty embedding")
			}
			vectors = append(vectors, embedding.Values)
		}
	}

	c.logger.Debug("gemini embed content",
		zap.Int("texts", len(trimmed)),
		zap.Int("requests", (len(trimmed)+maxEmbedBatch-1)/maxEmbedBatch),
	)
	return vectors, nil
}

func embeddingCount(resp *genai.EmbedContentResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Embeddings)
}

func (c *Client) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: wait for rate limiter: %w", op, err)
			}
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}

		retryable, delay := c.retryDecision(err, attempt)
		if !retryable || attempt == c.maxRetries {
			break
		}

		c.logger.Warn("gemini call failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := wait(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return fmt.Errorf("%s: %w", op, lastErr)
}

// retryDecision reports whether err is transient and how long to wait before the next attempt.
// A provider-requested delay above the backoff ceiling is not retried.
func (c *Client) retryDecision(err error, attempt int) (bool, time.Duration) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var apiErrPtr *genai.APIError
		if !errors.As(err, &apiErrPtr) || apiErrPtr == nil {
			return false, 0
		}
		apiErr = *apiErrPtr
	}

	switch apiErr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
	default:
		return false, 0
	}

	delay := utils.Backoff(attempt, c.retryBase, c.maxRetryDelay)
	if requested, ok := requestedDelay(apiErr); ok {
		if requested > c.maxRetryDelay {
			return false, 0
		}
		if requested > delay {
			delay = requested
		}
	}

	return true, delay
}

// requestedDelay extracts the wait the provider asked for, from RetryInfo details or the message.
func requestedDelay(apiErr genai.APIError) (time.Duration, bool) {
	for _, detail := range apiErr.Details {
		raw, ok := detail["retryDelay"].(string)
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil {
			return d, true
		}
	}

	match := retryAfterPattern.FindStringSubmatch(apiErr.Message)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	if strings.EqualFold(match[2], "ms") {
		return time.Duration(value * float64(time.Millisecond)), true
	}
	return time.Duration(value * float64(time.Second)), true
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}
