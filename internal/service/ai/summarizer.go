package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/mizulab/hearth/backend/internal/config"
)

const summarizeSystemPrompt = "You condense role-play chat transcripts. Write one compact paragraph in the third person covering the events, facts, and emotional beats of the transcript. Keep every name, decision, and promise. Output only the summary text."

const mergeSystemPrompt = "You merge two chronological summaries of the same role-play conversation into one. The first summary covers the earlier span. Preserve every name, decision, and promise from both. Output only the merged summary text."

const translateSystemPrompt = "You translate role-play chat messages. Translate the given text into %s, preserving tone and register. Output only the translation."

// SummarizerClient runs the cheap-model chain used by compaction and
// translation.
type SummarizerClient struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewSummarizerClient creates the summarizer over the configured
// summary model.
func NewSummarizerClient(ctx context.Context, cfg config.AIConfig) (*SummarizerClient, error) {
	summaryModel, err := cfg.NewSummaryModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(summaryModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile summary chain: %w", err)
	}

	return &SummarizerClient{chain: runnable}, nil
}

// Summarize condenses a speaker-tagged transcript into one summary.
func (s *SummarizerClient) Summarize(ctx context.Context, transcript string) (string, error) {
	return s.invoke(ctx, summarizeSystemPrompt, transcript)
}

// Merge folds two chronological summaries into one.
func (s *SummarizerClient) Merge(ctx context.Context, first, second string) (string, error) {
	query := fmt.Sprintf("Earlier summary:\n%s\n\nLater summary:\n%s", first, second)
	return s.invoke(ctx, mergeSystemPrompt, query)
}

// Translate renders the text in the target language.
func (s *SummarizerClient) Translate(ctx context.Context, text, language string) (string, error) {
	return s.invoke(ctx, fmt.Sprintf(translateSystemPrompt, language), text)
}

func (s *SummarizerClient) invoke(ctx context.Context, system, query string) (string, error) {
	msg, err := s.chain.Invoke(ctx, map[string]any{
		"system": system,
		"query":  query,
	})
	if err != nil {
		return "", fmt.Errorf("summary chain invoke failed: %w", err)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", fmt.Errorf("summary chain returned empty content")
	}
	return content, nil
}
