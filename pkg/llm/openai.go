package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/sashabaranov/go-openai"

	"github.com/sabio/ops-chat-gateway/pkg/settings"
)

const (
	planTemperature   = 0
	answerTemperature = 0.2
	pingPreviewLimit  = 400

	// ClassifierSystemMessage pins the planner to bare JSON output
	ClassifierSystemMessage = "Return JSON only. No prose."
)

// ErrMissingAPIKey is returned by every model call when no credential is configured
var ErrMissingAPIKey = errors.New("missing OpenAI API key")

// ProviderError is a non-success response from the model provider
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// ParseProviderError turns a non-success response body into a ProviderError,
// preferring the structured {"error": {...}} shape when it is present.
func ParseProviderError(status int, body []byte) *ProviderError {
	var resp openai.ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil && resp.Error.Message != "" {
		return &ProviderError{
			StatusCode: status,
			Message:    formatAPIError(resp.Error),
		}
	}

	return &ProviderError{
		StatusCode: status,
		Message:    fmt.Sprintf("OpenAI error %d %s: %s", status, http.StatusText(status), strings.TrimSpace(string(body))),
	}
}

func formatAPIError(apiErr *openai.APIError) string {
	code := "none"
	if apiErr.Code != nil {
		code = fmt.Sprint(apiErr.Code)
	}
	return fmt.Sprintf("OpenAI error: %s (type=%s, code=%s)", apiErr.Message, apiErr.Type, code)
}

// Client talks to an OpenAI-compatible chat completions API. Blocking calls go
// through go-openai; the streamed answer is read raw so that records can be
// decoded incrementally.
type Client struct {
	api     *openai.Client
	http    *resty.Client
	apiKey  string
	baseURL string
	model   string
	logger  log.Logger
}

// NewClient creates a model client on top of the shared upstream HTTP client
func NewClient(s *settings.Settings, upstream *resty.Client, logger log.Logger) *Client {
	config := openai.DefaultConfig(s.OpenAIAPIKey)
	config.BaseURL = s.OpenAIBaseURL
	config.HTTPClient = upstream.GetClient()

	return &Client{
		api:     openai.NewClientWithConfig(config),
		http:    upstream,
		apiKey:  strings.TrimSpace(s.OpenAIAPIKey),
		baseURL: strings.TrimSuffix(s.OpenAIBaseURL, "/"),
		model:   s.Model,
		logger:  logger,
	}
}

// Model returns the configured model identifier
func (c *Client) Model() string {
	return c.model
}

// Classify sends the routing prompt and returns the raw model text
func (c *Client) Classify(ctx context.Context, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: ClassifierSystemMessage},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	return c.complete(ctx, messages, planTemperature)
}

// Complete performs a blocking chat completion for the final answer
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, answerMessages(system, user), answerTemperature)
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: nonZero(temperature),
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}

	return resp.Choices[0].Message.Content, nil
}

// OpenStream sends a streamed completion request and returns the raw response
// body on success. The caller closes it. Transport failures are returned
// as-is; non-success statuses come back as *ProviderError.
func (c *Client) OpenStream(ctx context.Context, system, user string) (io.ReadCloser, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    answerMessages(system, user),
		Temperature: answerTemperature,
		Stream:      true,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		SetBody(req).
		SetDoNotParseResponse(true).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("sending completion request: %w", err)
	}

	body := resp.RawBody()
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		defer body.Close()
		raw, _ := io.ReadAll(body)
		return nil, ParseProviderError(resp.StatusCode(), raw)
	}

	c.logger.Debug("Completion stream opened", "model", c.model, "status", resp.StatusCode())
	return body, nil
}

// Ping lists models and returns a short preview of the raw response
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		Get(c.baseURL + "/models")
	if err != nil {
		return "", fmt.Errorf("pinging model provider: %w", err)
	}

	body := resp.String()
	if len(body) > pingPreviewLimit {
		body = body[:pingPreviewLimit]
	}

	return fmt.Sprintf("status=%s; body=%s", resp.Status(), body), nil
}

// CheckModel verifies the credential and that the configured model is listed
func (c *Client) CheckModel(ctx context.Context) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	models, err := c.api.ListModels(ctx)
	if err != nil {
		return classifyError(err)
	}

	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}

	return fmt.Errorf("model %q is not available (%d models listed)", c.model, len(models.Models))
}

func answerMessages(system, user string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}
}

// classifyError maps go-openai errors onto ProviderError where the provider
// answered, leaving transport errors wrapped.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &ProviderError{StatusCode: apiErr.HTTPStatusCode, Message: formatAPIError(apiErr)}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return ParseProviderError(reqErr.HTTPStatusCode, reqErr.Body)
	}

	return fmt.Errorf("model request failed: %w", err)
}

// nonZero stands in for a zero temperature. go-openai drops 0 through
// omitempty, which leaves the provider default (1.0); the smallest float32
// is sent instead and samples the same as 0.
func nonZero(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
