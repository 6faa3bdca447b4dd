package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/pravo/internal/config"
	"github.com/hyperjump/pravo/internal/models"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *resty.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// NewOpenAIEmbedder returns an embedder for cfg. A missing API key is fatal.
func NewOpenAIEmbedder(cfg config.EmbeddingConfig, opts ...Option) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("embedding.api_key is empty; set OPENAI_API_KEY: %w", models.ErrFatal)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding.dimensions must be positive: %w", models.ErrFatal)
	}
	o := buildOptions(opts)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = o.timeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &OpenAIEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     o.logger,
	}, nil
}

// EmbedBatch embeds texts in one request. Results are reordered by their
// response index.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var result embeddingResponse
	var apiErr apiErrorResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(embeddingRequest{
			Input:          texts,
			Model:          e.model,
			Dimensions:     e.dimensions,
			EncodingFormat: "float",
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/embeddings")
	if err != nil {
		return nil, e.transformRequestError(ctx, err)
	}
	if err := e.validateResponse(resp, &apiErr); err != nil {
		return nil, err
	}
	return e.collect(&result, len(texts))
}

func (e *OpenAIEmbedder) transformRequestError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Message: "request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Message: "network error", Err: err}
	}
	return &TransientError{Message: "request failed", Err: err}
}

func (e *OpenAIEmbedder) validateResponse(resp *resty.Response, apiErr *apiErrorResponse) error {
	status := resp.StatusCode()
	if status < http.StatusBadRequest {
		return nil
	}
	msg := strings.TrimSpace(apiErr.Error.Message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("embedding provider refused credentials (status %d): %s: %w", status, msg, models.ErrFatal)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		retryAfter := parseRetryAfter(resp.Header().Get("Retry-After"), time.Now())
		e.logger.Warn("embedding request throttled or failed",
			zap.Int("status", status),
			zap.Duration("retry_after", retryAfter),
			zap.String("message", msg))
		return &TransientError{Status: status, Message: msg, RetryAfter: retryAfter}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &PermanentError{Status: status, Message: msg}
	case status == http.StatusNotFound:
		return fmt.Errorf("embedding model %q or endpoint not found: %s: %w", e.model, msg, models.ErrFatal)
	}
	return &PermanentError{Status: status, Message: msg}
}

func (e *OpenAIEmbedder) collect(result *embeddingResponse, want int) ([][]float32, error) {
	if len(result.Data) != want {
		return nil, &TransientError{Message: fmt.Sprintf("expected %d embeddings, got %d", want, len(result.Data))}
	}
	sort.Slice(result.Data, func(i, j int) bool { return result.Data[i].Index < result.Data[j].Index })
	out := make([][]float32, want)
	for i, d := range result.Data {
		if d.Index != i {
			return nil, &TransientError{Message: fmt.Sprintf("embedding index %d out of sequence", d.Index)}
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("model %s returned %d dimensions, configured %d: %w",
				e.model, len(d.Embedding), e.dimensions, models.ErrFatal)
		}
		out[i] = d.Embedding
	}
	e.logger.Debug("embedded batch",
		zap.Int("count", want),
		zap.Int("total_tokens", result.Usage.TotalTokens))
	return out, nil
}

// Dimensions returns the configured vector size.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Model returns the model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Close releases idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.client.GetClient().CloseIdleConnections()
	return nil
}
