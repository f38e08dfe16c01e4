// Package completion is the text-completion collaborator used by the
// ai_analysis action.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	System   string
	Messages []Message
}

// Completer returns a single text completion for a conversation.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

var ErrNotConfigured = errors.New("completion API key is not configured")

type AnthropicCompleter struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

var _ Completer = (*AnthropicCompleter)(nil)

func NewAnthropicCompleter(apiKey, model string, maxTokens int64, opts ...option.RequestOption) *AnthropicCompleter {
	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicCompleter{
		client:    anthropic.NewClient(clientOpts...),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("completion needs at least one message")
	}
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	var parts []string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Disabled fails every call. It stands in when no API key is configured so
// ai_analysis actions fail visibly instead of the server refusing to start.
type Disabled struct{}

func (Disabled) Complete(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}
