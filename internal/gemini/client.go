// Package gemini talks to the Gemini generateContent REST endpoint and
// classifies its responses into generation results.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/example/faceswap-gateway/internal/generation"
)

const (
	apiKeyHeader     = "x-goog-api-key"
	maxResponseBytes = 64 << 20
)

// Config configures the REST client.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
}

// Client performs generateContent calls.
type Client struct {
	httpClient *http.Client
	endpoint   string
	model      string
	logger     *zap.Logger
}

var _ generation.Generator = (*Client)(nil)

// NewClient validates cfg and returns a ready client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gemini base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(cfg.BaseURL, "/"), cfg.Model),
		model:      cfg.Model,
		logger:     logger.Named("gemini_client"),
	}, nil
}

// Generate assembles the payload for req and sends it.
func (c *Client) Generate(ctx context.Context, apiKey string, req generation.Request) (generation.Result, error) {
	return c.Send(ctx, apiKey, BuildPayload(req))
}

// Send posts payload once. Transport and decoding problems are returned as
// errors; everything the provider says is turned into a Result.
func (c *Client) Send(ctx context.Context, apiKey string, payload *Payload) (generation.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return generation.Result{}, fmt.Errorf("encode gemini payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return generation.Result{}, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, apiKey)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("gemini request failed", zap.String("model", c.model), zap.Error(err))
		return generation.Result{}, fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return generation.Result{}, fmt.Errorf("read gemini response: %w", err)
	}

	result, err := Classify(resp.StatusCode, raw)
	if err != nil {
		c.logger.Error("gemini response could not be decoded",
			zap.Int("status", resp.StatusCode), zap.Int("bytes", len(raw)), zap.Error(err))
		return generation.Result{}, err
	}

	fields := []zap.Field{
		zap.String("model", c.model),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(started)),
	}
	if result.Failure != nil {
		c.logger.Warn("gemini returned no image", append(fields, zap.String("error_kind", string(result.Failure.Kind)))...)
	} else {
		c.logger.Debug("gemini returned an image", fields...)
	}
	return result, nil
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Classify maps a raw provider response to a Result. The checks run in a
// fixed order: HTTP status, prompt block, candidates, inline image.
func Classify(status int, body []byte) (generation.Result, error) {
	if status < 200 || status > 299 {
		return classifyAPIError(status, body), nil
	}

	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return generation.Result{}, fmt.Errorf("decode gemini response: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		reason := string(resp.PromptFeedback.BlockReason)
		return generation.Failed(generation.Failure{
			Kind:        generation.KindSafetyBlock,
			Message:     generation.BlockReasonMessage(reason),
			BlockReason: reason,
		}), nil
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return generation.Failed(generation.Failure{
			Kind:    generation.KindNoCandidates,
			Message: "The model returned no candidates.",
		}), nil
	}

	candidate := resp.Candidates[0]
	var (
		image *generation.Image
		text  strings.Builder
	)
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if image == nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				image = &generation.Image{
					MIMEType: part.InlineData.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
				}
			}
		}
	}

	if image == nil {
		failure := generation.Failure{
			Kind:         generation.KindNoImage,
			Message:      "The model did not return an image.",
			FinishReason: string(candidate.FinishReason),
			Text:         text.String(),
		}
		if looksFiltered(failure.Text) {
			failure.Kind = generation.KindImageFiltered
			failure.Message = "The generated image was filtered by the provider's content policy."
		}
		return generation.Failed(failure), nil
	}

	return generation.Succeeded(*image, text.String()), nil
}

func classifyAPIError(status int, body []byte) generation.Result {
	failure := generation.Failure{
		Kind:    generation.KindAPIError,
		Message: fmt.Sprintf("Gemini API request failed with status %d.", status),
		Code:    status,
	}

	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			failure.Message = apiErr.Error.Message
		}
		if apiErr.Error.Code != 0 {
			failure.Code = apiErr.Error.Code
		}
		failure.Status = apiErr.Error.Status
	}
	return generation.Failed(failure)
}

func looksFiltered(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "violated") || strings.Contains(lower, "policy")
}
