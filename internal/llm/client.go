// Package llm talks to the chat completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ashureev/hostbot/internal/domain"
)

// ErrCompletion is returned when the completion API fails or yields no reply.
var ErrCompletion = errors.New("completion api failure")

// CompletionError carries the upstream status and message of a failed call.
type CompletionError struct {
	StatusCode int
	Message    string
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion api request failed: status=%d error=%s", e.StatusCode, e.Message)
}

// Unwrap lets callers match with errors.Is(err, ErrCompletion).
func (e *CompletionError) Unwrap() error {
	return ErrCompletion
}

// Completer sends an ordered transcript and returns one reply turn.
type Completer interface {
	Complete(ctx context.Context, turns []domain.Turn, temperature float64) (domain.Turn, error)
}

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client implements Completer over an OpenAI-compatible chat completions API.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a completion client. Retries are disabled: a failure is
// terminal for the request that triggered it.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("completion model is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete submits the transcript and returns the assistant reply.
func (c *Client) Complete(ctx context.Context, turns []domain.Turn, temperature float64) (domain.Turn, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := strings.TrimSpace(apiErr.Message)
			if msg == "" {
				msg = strings.TrimSpace(apiErr.Error())
			}
			return domain.Turn{}, &CompletionError{StatusCode: apiErr.StatusCode, Message: msg}
		}
		return domain.Turn{}, fmt.Errorf("%w: %v", ErrCompletion, err)
	}

	if len(completion.Choices) == 0 {
		return domain.Turn{}, fmt.Errorf("%w: no choices in response", ErrCompletion)
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return domain.Turn{}, fmt.Errorf("%w: empty reply content", ErrCompletion)
	}

	return domain.Turn{Role: domain.RoleAssistant, Content: content}, nil
}

// Ensure Client implements Completer.
var _ Completer = (*Client)(nil)
