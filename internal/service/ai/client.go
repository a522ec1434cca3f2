// Package ai adapts the eino model stack to the conversation engine:
// a conversation chain for character replies and a summary chain for
// compaction and translation.
package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/mizulab/hearth/backend/internal/config"
)

// Prompt is the assembled input for one model call.
type Prompt struct {
	System  string
	History []*schema.Message
	Query   string
}

// Client drives the conversation model through a compiled
// chat-template chain.
type Client struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewClient creates the conversation client.
func NewClient(ctx context.Context, cfg config.AIConfig) (*Client, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Client{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled reports whether responses should stream.
func (c *Client) StreamingEnabled() bool {
	return c.cfg.StreamResponse
}

// Call runs the chain and returns the single buffered response.
func (c *Client) Call(ctx context.Context, p Prompt) (*schema.Message, error) {
	response, err := c.chain.Invoke(ctx, chainInput(p))
	if err != nil {
		return nil, fmt.Errorf("failed to run chat chain: %w", err)
	}
	return response, nil
}

// Stream runs the chain and returns the chunk stream. The reader is
// finite, not restartable, and must be closed by the consumer.
func (c *Client) Stream(ctx context.Context, p Prompt) (*schema.StreamReader[*schema.Message], error) {
	stream, err := c.chain.Stream(ctx, chainInput(p))
	if err != nil {
		return nil, fmt.Errorf("failed to stream chat chain: %w", err)
	}
	return stream, nil
}

func chainInput(p Prompt) map[string]any {
	return map[string]any{
		"system":  p.System,
		"history": p.History,
		"query":   p.Query,
	}
}
