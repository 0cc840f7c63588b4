package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zulandar/switchboard/internal/billing"
)

// OpenAIProvider talks to the OpenAI chat completions API or any
// OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client openai.Client
}

// OpenAIProviderOpts holds parameters for creating an OpenAIProvider.
type OpenAIProviderOpts struct {
	APIKey  string
	BaseURL string // optional OpenAI-compatible endpoint
}

// NewOpenAIProvider creates an OpenAIProvider. Retries are disabled: a
// failed call is surfaced to the user rather than repeated.
func NewOpenAIProvider(opts OpenAIProviderOpts) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("completion: api key is required")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(reqOpts...)}, nil
}

// Complete sends the transcript and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, model string, msgs []ChatMessage, temperature float64) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    toOpenAIMessages(msgs),
		Temperature: openai.Float(temperature),
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("completion: %s returned no choices", model)
	}
	return Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: billing.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func toOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// classifyOpenAIError wraps API errors with the matching sentinel.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("completion: provider: %w", err)
	}
	switch {
	case apiErr.Code == "context_length_exceeded" ||
		strings.Contains(apiErr.Message, "maximum context length"):
		return fmt.Errorf("%w: %s", ErrContextTooLong, apiErr.Message)
	case apiErr.StatusCode >= http.StatusBadRequest && apiErr.StatusCode < http.StatusInternalServerError &&
		apiErr.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("%w: %d %s", ErrInvalidRequest, apiErr.StatusCode, apiErr.Message)
	default:
		return fmt.Errorf("completion: provider: %w", err)
	}
}
