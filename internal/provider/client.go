// Package provider calls upstream chat-completion APIs and reports token usage.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const maxErrorExcerpt = 512

// Default base URLs for the OpenAI-compatible endpoints of each vendor.
const (
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	DefaultGeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai"
)

var (
	// ErrEmptyPrompt is returned before any request is made.
	ErrEmptyPrompt = errors.New("provider: empty prompt")
	// ErrMalformedResponse indicates a 2xx response without usable content.
	ErrMalformedResponse = errors.New("provider: malformed response")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (statusError *StatusError) Error() string {
	return fmt.Sprintf("provider: upstream returned %d: %s", statusError.StatusCode, statusError.Body)
}

// Completion is the generated text plus the usage reported by the vendor.
type Completion struct {
	Text       string
	UsageCount int64
}

// Client speaks the OpenAI chat completions protocol through go-openai.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client rooted at baseURL. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// api builds a go-openai client for one secret. Secrets differ per call, so clients are not cached.
func (client *Client) api(secret string) *openai.Client {
	config := openai.DefaultConfig(secret)
	config.BaseURL = client.baseURL
	config.HTTPClient = client.httpClient
	return openai.NewClientWithConfig(config)
}

// Complete sends prompt as a single user message and returns the first choice.
func (client *Client) Complete(ctx context.Context, secret string, modelID string, prompt string) (Completion, error) {
	if strings.TrimSpace(prompt) == "" {
		return Completion{}, ErrEmptyPrompt
	}
	response, err := client.api(secret).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Completion{}, translateError(err)
	}
	if len(response.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	usage := int64(response.Usage.TotalTokens)
	if usage == 0 {
		usage = int64(response.Usage.PromptTokens + response.Usage.CompletionTokens)
	}
	if usage < 0 {
		return Completion{}, fmt.Errorf("%w: negative usage", ErrMalformedResponse)
	}
	return Completion{Text: response.Choices[0].Message.Content, UsageCount: usage}, nil
}

func translateError(err error) error {
	var apiError *openai.APIError
	if errors.As(err, &apiError) {
		return &StatusError{StatusCode: apiError.HTTPStatusCode, Body: excerpt(apiError.Message)}
	}
	var requestError *openai.RequestError
	if errors.As(err, &requestError) {
		return &StatusError{StatusCode: requestError.HTTPStatusCode, Body: excerpt(requestError.Error())}
	}
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	if errors.As(err, &syntaxError) || errors.As(err, &typeError) {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fmt.Errorf("provider: request: %w", err)
}

func excerpt(message string) string {
	trimmed := strings.TrimSpace(message)
	if len(trimmed) > maxErrorExcerpt {
		return trimmed[:maxErrorExcerpt]
	}
	return trimmed
}
