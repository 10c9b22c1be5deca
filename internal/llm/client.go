// Package llm implements the completion client for the chat provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/serenoapp/sereno/internal/config"
	"github.com/serenoapp/sereno/internal/domain"
	"github.com/serenoapp/sereno/internal/prompt"
)

// Generation temperatures per prompt kind. Conversation stays loose;
// structured extraction stays tight so the JSON parses.
const (
	chatTemperature       = 0.8
	structuredTemperature = 0.3

	structuredMaxTokens = 500
)

// Client sends a conversation transcript plus a built prompt to the provider
// and returns plain text. Single request/response, no retries: failures
// surface immediately to the caller.
type Client struct {
	api           *openai.Client
	model         string
	maxChatTokens int
}

// NewClient creates a completion client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}

	return &Client{
		api:           openai.NewClientWithConfig(apiCfg),
		model:         cfg.Model,
		maxChatTokens: cfg.MaxChatTokens,
	}
}

// Complete serializes the transcript and the built prompt into one request
// and returns the generated text.
func (c *Client) Complete(ctx context.Context, transcript []*domain.Message, kind prompt.Kind, userContext string, totalConversations int) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt.Build(kind, userContext, totalConversations),
	})

	for _, m := range transcript {
		if m.Content == "" {
			// Playback placeholders never reach the provider.
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	temperature := float32(chatTemperature)
	maxTokens := c.maxChatTokens
	if kind != prompt.KindChat {
		temperature = structuredTemperature
		maxTokens = structuredMaxTokens
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// classifyError maps provider failures onto the error taxonomy. Rate limiting
// (429) and billing exhaustion (402) get distinct sentinels so the API layer
// can show distinct user-facing messages.
func classifyError(err error) error {
	status := 0
	message := err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		message = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrBilling, message)
	case 0:
		// Transport-level failure with no HTTP status.
		return &ProviderError{Status: 0, Message: message}
	default:
		return &ProviderError{Status: status, Message: message}
	}
}
