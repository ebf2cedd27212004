package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
	"github.com/bryanwahyu/contract-risk/internal/infra/ai/prompt"
)

const (
	maxTokens      = 4096
	defaultModel   = openai.GPT4oMini
	defaultTimeout = 60 * time.Second
)

// Ensure Client implements the port.
var _ risk.SemanticAnalyzer = (*Client)(nil)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// Timeout bounds one Analyze call; exceeding it is a terminal failure
	Timeout time.Duration
	// MaxInputChars rejects longer texts instead of silently truncating
	MaxInputChars int
	// Categories steer the model towards the catalog vocabulary
	Categories []string
}

// Client is the semantic analyzer backed by the chat completions API.
// It never retries.
type Client struct {
	client *openai.Client
	cfg    Config
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &Client{client: openai.NewClientWithConfig(clientConfig), cfg: cfg}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) Analyze(ctx context.Context, text string) ([]risk.Finding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &risk.InvalidInputError{Field: "text", Reason: "must not be empty"}
	}
	if c.cfg.MaxInputChars > 0 && utf8.RuneCountInString(text) > c.cfg.MaxInputChars {
		return nil, &risk.InvalidInputError{Field: "text", Reason: fmt.Sprintf("longer than %d characters", c.cfg.MaxInputChars)}
	}

	model := c.cfg.Model
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt(c.cfg.Categories)},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(text)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if isReasoningModel(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = 0.1
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, risk.NewAnalyzerError(risk.KindTimeout, err)
		}
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, risk.NewAnalyzerError(risk.KindMalformedResponse, errors.New("no choices in response"))
	}

	findings, err := prompt.DecodeFindings(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, risk.NewAnalyzerError(risk.KindMalformedResponse, err)
	}
	return findings, nil
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classify maps transport and API errors onto analyzer error kinds.
func classify(err error) *risk.ExternalAnalyzerError {
	if errors.Is(err, context.DeadlineExceeded) {
		return risk.NewAnalyzerError(risk.KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return risk.NewAnalyzerError(risk.KindTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fromStatus(apiErr.HTTPStatusCode, isQuota(apiErr), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fromStatus(reqErr.HTTPStatusCode, strings.Contains(string(reqErr.Body), "insufficient_quota"), err)
	}
	return risk.NewAnalyzerError(risk.KindUnavailable, err)
}

func fromStatus(status int, quota bool, err error) *risk.ExternalAnalyzerError {
	switch {
	case status == http.StatusTooManyRequests && quota:
		return risk.NewAnalyzerError(risk.KindQuotaExceeded, err)
	case status == http.StatusTooManyRequests:
		return risk.NewAnalyzerError(risk.KindRateLimited, err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return risk.NewAnalyzerError(risk.KindAuthentication, err)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return risk.NewAnalyzerError(risk.KindTimeout, err)
	default:
		return risk.NewAnalyzerError(risk.KindUnavailable, err)
	}
}

func isQuota(e *openai.APIError) bool {
	if e.Type == "insufficient_quota" {
		return true
	}
	code, _ := e.Code.(string)
	return code == "insufficient_quota"
}
