// Package compaction keeps a chat's prompt context inside its token
// budget. After every settled AI turn the policy either relieves memory
// pressure (merging or evicting old summaries) or folds the oldest
// block of messages into a new memory summary.
package compaction

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mizulab/hearth/backend/internal/config"
	"github.com/mizulab/hearth/backend/internal/model/chat"
	"github.com/mizulab/hearth/backend/internal/service/session"
)

// Summarizer produces the condensed text for summaries and merges. A
// cheaper model than the conversation one typically backs it.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
	Merge(ctx context.Context, first, second string) (string, error)
}

// Estimator approximates the model-token cost of a text. The exact
// estimator is pluggable; the default is EstimateTokens.
type Estimator func(string) int

// EstimateTokens is the chars/4 heuristic used when no provider
// tokenizer is wired in.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Policy evaluates the two-stage budget check against a chat.
type Policy struct {
	sessions   *session.Service
	summarizer Summarizer
	cfg        config.CompactionConfig
	estimate   Estimator
}

// NewPolicy builds a policy with the default estimator.
func NewPolicy(sessions *session.Service, summarizer Summarizer, cfg config.CompactionConfig) *Policy {
	return &Policy{
		sessions:   sessions,
		summarizer: summarizer,
		cfg:        cfg,
		estimate:   EstimateTokens,
	}
}

// WithEstimator overrides the token estimator.
func (p *Policy) WithEstimator(e Estimator) *Policy {
	p.estimate = e
	return p
}

// Run performs one compaction pass. Stage 1 (memory pressure) runs
// strictly before stage 2 (context overflow) and short-circuits it for
// this invocation; the next turn re-evaluates. A summarizer failure
// leaves the aggregate untouched; the chat keeps working, possibly
// slightly over budget, and the pass retries after the next turn.
func (p *Policy) Run(ctx context.Context, chatID string) error {
	return p.sessions.Mutate(ctx, chatID, func(c *chat.Chat) error {
		memoryBudget := int(float64(p.cfg.TokenThreshold) * p.cfg.MemoryMaxRatio)
		memoryTokens := p.memoryTokens(c)

		if memoryTokens > memoryBudget {
			return p.relieveMemoryPressure(ctx, c)
		}

		if p.messageTokens(c)+memoryTokens > p.cfg.TokenThreshold {
			return p.compactMessages(ctx, c)
		}

		return nil
	})
}

func (p *Policy) memoryTokens(c *chat.Chat) int {
	total := 0
	for i := range c.Memories {
		total += p.estimate(c.Memories[i].Content)
	}
	return total
}

func (p *Policy) messageTokens(c *chat.Chat) int {
	total := 0
	for i := range c.Messages {
		total += p.estimate(c.Messages[i].ActiveContent())
	}
	return total
}

// relieveMemoryPressure merges the two oldest summaries into one, or
// evicts the single oldest when no merge is possible. Eviction is
// lossy by design: the alternative is a ledger that grows without
// bound.
func (p *Policy) relieveMemoryPressure(ctx context.Context, c *chat.Chat) error {
	if len(c.Memories) >= 2 {
		first, second := twoOldest(c)

		merged, err := p.summarizer.Merge(ctx, first.Content, second.Content)
		if err != nil {
			return fmt.Errorf("memory merge failed: %w", err)
		}

		summary := chat.MemorySummary{
			ID:                   uuid.NewString(),
			Content:              merged,
			SummarizedMessageIDs: append(append([]string{}, first.SummarizedMessageIDs...), second.SummarizedMessageIDs...),
			StartTime:            minTime(first.StartTime, second.StartTime),
			EndTime:              maxTime(first.EndTime, second.EndTime),
			CreatedAt:            time.Now().UTC(),
		}

		session.RemoveMemories(c, []string{first.ID, second.ID})
		c.Memories = append(c.Memories, summary)
		return nil
	}

	oldest := session.OldestMemory(c)
	if oldest == nil {
		return nil
	}
	log.Printf("[compact] chat=%s evicting memory %s (%d chars) over budget, no merge candidate", c.ID, oldest.ID, len(oldest.Content))
	session.RemoveMemories(c, []string{oldest.ID})
	return nil
}

// compactMessages folds the oldest block of turns into a new memory
// summary and drops those messages.
func (p *Policy) compactMessages(ctx context.Context, c *chat.Chat) error {
	blockLen := 2 * p.cfg.MessageSetCount
	if blockLen > len(c.Messages) {
		blockLen = len(c.Messages)
	}

	if blockLen < 2 {
		// Degenerate: nothing worth summarizing (e.g. one huge message).
		// Fall back to the same lossy eviction as stage 1 rather than
		// stalling forever.
		oldest := session.OldestMemory(c)
		if oldest == nil {
			return nil
		}
		log.Printf("[compact] chat=%s evicting memory %s: too few messages to summarize", c.ID, oldest.ID)
		session.RemoveMemories(c, []string{oldest.ID})
		return nil
	}

	block := c.Messages[:blockLen]
	content, err := p.summarizer.Summarize(ctx, Transcript(block))
	if err != nil {
		return fmt.Errorf("message summarization failed: %w", err)
	}

	ids := make([]string, len(block))
	for i := range block {
		ids[i] = block[i].ID
	}

	summary := chat.MemorySummary{
		ID:                   uuid.NewString(),
		Content:              content,
		SummarizedMessageIDs: ids,
		StartTime:            block[0].Timestamp,
		EndTime:              block[len(block)-1].Timestamp,
		CreatedAt:            time.Now().UTC(),
	}

	session.RemoveMessages(c, ids)
	c.Memories = append(c.Memories, summary)
	return nil
}

// Transcript renders a message block as speaker-tagged lines for the
// summarizer prompt.
func Transcript(messages []chat.Message) string {
	var b strings.Builder
	for i := range messages {
		m := &messages[i]
		role := m.SenderID
		if m.IsUser() {
			role = "User"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.ActiveContent())
		b.WriteString("\n")
	}
	return b.String()
}

func twoOldest(c *chat.Chat) (*chat.MemorySummary, *chat.MemorySummary) {
	var first, second *chat.MemorySummary
	for i := range c.Memories {
		m := &c.Memories[i]
		switch {
		case first == nil || olderThan(m, first):
			second = first
			first = m
		case second == nil || olderThan(m, second):
			second = m
		}
	}
	return first, second
}

func olderThan(a, b *chat.MemorySummary) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.StartTime.Before(b.StartTime)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
