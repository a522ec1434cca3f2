package compaction_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mizulab/hearth/backend/internal/config"
	chatModel "github.com/mizulab/hearth/backend/internal/model/chat"
	"github.com/mizulab/hearth/backend/internal/service/compaction"
	"github.com/mizulab/hearth/backend/internal/service/session"
	"github.com/mizulab/hearth/backend/internal/store"
)

type fakeSummarizer struct {
	summarizeCalls int
	mergeCalls     int
	err            error
}

func (f *fakeSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	f.summarizeCalls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("summary of %d lines", strings.Count(transcript, "\n")), nil
}

func (f *fakeSummarizer) Merge(_ context.Context, first, second string) (string, error) {
	f.mergeCalls++
	if f.err != nil {
		return "", f.err
	}
	return "merged: " + first + " + " + second, nil
}

func testConfig() config.CompactionConfig {
	return config.CompactionConfig{
		TokenThreshold:  100,
		MemoryMaxRatio:  0.3,
		MessageSetCount: 4,
	}
}

func newChat(t *testing.T) (*session.Service, *chatModel.Chat) {
	t.Helper()
	svc := session.NewService(store.NewMemoryStore())
	c, err := svc.CreateChat(context.Background(), "aria", chatModel.ModeDirect)
	require.NoError(t, err)
	return svc, c
}

func totalTokens(c *chatModel.Chat) int {
	total := 0
	for i := range c.Messages {
		total += compaction.EstimateTokens(c.Messages[i].ActiveContent())
	}
	for i := range c.Memories {
		total += compaction.EstimateTokens(c.Memories[i].Content)
	}
	return total
}

func TestRunUnderBudgetDoesNothing(t *testing.T) {
	svc, c := newChat(t)
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "hi")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, c.ID, "aria", "hello")
	require.NoError(t, err)

	summarizer := &fakeSummarizer{}
	policy := compaction.NewPolicy(svc, summarizer, testConfig())
	require.NoError(t, policy.Run(ctx, c.ID))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	require.Empty(t, got.Memories)
	require.Zero(t, summarizer.summarizeCalls)
	require.Zero(t, summarizer.mergeCalls)
}

func TestRunSummarizesOldestBlock(t *testing.T) {
	svc, c := newChat(t)
	ctx := context.Background()

	// Four pairs, each message ~25 chars, well past the 100-token
	// threshold.
	long := strings.Repeat("w ", 30)
	var ids []string
	for i := 0; i < 4; i++ {
		u, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, long)
		require.NoError(t, err)
		a, err := svc.AppendMessage(ctx, c.ID, "aria", long)
		require.NoError(t, err)
		ids = append(ids, u.ID, a.ID)
	}

	before, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	firstTS := before.Messages[0].Timestamp
	lastTS := before.Messages[len(before.Messages)-1].Timestamp

	policy := compaction.NewPolicy(svc, &fakeSummarizer{}, testConfig())
	require.NoError(t, policy.Run(ctx, c.ID))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, got.Messages)
	require.Len(t, got.Memories, 1)

	mem := got.Memories[0]
	require.Equal(t, ids, mem.SummarizedMessageIDs)
	require.Equal(t, firstTS, mem.StartTime)
	require.Equal(t, lastTS, mem.EndTime)

	// No summarized id is still present as a live message.
	for _, id := range mem.SummarizedMessageIDs {
		require.Equal(t, -1, got.MessageIndex(id))
	}

	require.LessOrEqual(t, totalTokens(got), totalTokens(before))
}

func TestRunMergesTwoOldestMemories(t *testing.T) {
	svc, c := newChat(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	mk := func(id string, offset time.Duration, content string, msgIDs ...string) chatModel.MemorySummary {
		return chatModel.MemorySummary{
			ID:                   id,
			Content:              content,
			SummarizedMessageIDs: msgIDs,
			StartTime:            base.Add(offset),
			EndTime:              base.Add(offset + time.Hour),
			CreatedAt:            base.Add(offset),
		}
	}

	big := strings.Repeat("m", 80) // 20 tokens each, 3 over the 30-token memory budget
	require.NoError(t, svc.AddMemory(ctx, c.ID, mk("m1", 0, big, "a", "b")))
	require.NoError(t, svc.AddMemory(ctx, c.ID, mk("m2", time.Hour, big, "c")))
	require.NoError(t, svc.AddMemory(ctx, c.ID, mk("m3", 2*time.Hour, "tiny", "d")))

	summarizer := &fakeSummarizer{}
	policy := compaction.NewPolicy(svc, summarizer, testConfig())
	require.NoError(t, policy.Run(ctx, c.ID))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, summarizer.mergeCalls)
	require.Len(t, got.Memories, 2)

	var merged *chatModel.MemorySummary
	for i := range got.Memories {
		if got.Memories[i].ID != "m3" {
			merged = &got.Memories[i]
		}
	}
	require.NotNil(t, merged)
	require.Equal(t, []string{"a", "b", "c"}, merged.SummarizedMessageIDs)
	require.Equal(t, base, merged.StartTime)
	require.Equal(t, base.Add(time.Hour+time.Hour), merged.EndTime)
}

func TestRunEvictsSingleOversizedMemory(t *testing.T) {
	svc, c := newChat(t)
	ctx := context.Background()

	huge := chatModel.MemorySummary{
		ID:        "m1",
		Content:   strings.Repeat("x", 400),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, svc.AddMemory(ctx, c.ID, huge))

	summarizer := &fakeSummarizer{}
	policy := compaction.NewPolicy(svc, summarizer, testConfig())
	require.NoError(t, policy.Run(ctx, c.ID))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, got.Memories)
	require.Zero(t, summarizer.mergeCalls)
}

func TestMemoryPressureShortCircuitsMessageStage(t *testing.T) {
	svc, c := newChat(t)
	ctx := context.Background()

	// Both stages are triggered, but only stage 1 may act this pass.
	long := strings.Repeat("w ", 60)
	for i := 0; i < 4; i++ {
		_, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, long)
		require.NoError(t, err)
		_, err = svc.AppendMessage(ctx, c.ID, "aria", long)
		require.NoError(t, err)
	}
	require.NoError(t, svc.AddMemory(ctx, c.ID, chatModel.MemorySummary{
		ID:        "m1",
		Content:   strings.Repeat("x", 200),
		CreatedAt: time.Now().UTC(),
	}))

	summarizer := &fakeSummarizer{}
	policy := compaction.NewPolicy(svc, summarizer, testConfig())
	require.NoError(t, policy.Run(ctx, c.ID))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 8)
	require.Zero(t, summarizer.summarizeCalls)

	// The next pass handles the message overflow.
	require.NoError(t, policy.Run(ctx, c.ID))
	got, err = svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 0)
	require.Equal(t, 1, summarizer.summarizeCalls)
}

func TestSummarizerFailureLeavesStateUntouched(t *testing.T) {
	svc, c := newChat(t)
	ctx := context.Background()

	long := strings.Repeat("w ", 60)
	for i := 0; i < 2; i++ {
		_, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, long)
		require.NoError(t, err)
		_, err = svc.AppendMessage(ctx, c.ID, "aria", long)
		require.NoError(t, err)
	}

	summarizer := &fakeSummarizer{err: errors.New("model unavailable")}
	policy := compaction.NewPolicy(svc, summarizer, testConfig())
	require.Error(t, policy.Run(ctx, c.ID))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 4)
	require.Empty(t, got.Memories)
}

func TestDegenerateOverflowEvictsOldestMemory(t *testing.T) {
	svc, c := newChat(t)
	ctx := context.Background()

	// One huge message cannot be summarized as a block; the policy
	// falls back to evicting a memory instead of stalling.
	_, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, strings.Repeat("x", 500))
	require.NoError(t, err)
	require.NoError(t, svc.AddMemory(ctx, c.ID, chatModel.MemorySummary{
		ID:        "m1",
		Content:   "small memory",
		CreatedAt: time.Now().UTC(),
	}))

	summarizer := &fakeSummarizer{}
	policy := compaction.NewPolicy(svc, summarizer, testConfig())
	require.NoError(t, policy.Run(ctx, c.ID))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Empty(t, got.Memories)
	require.Zero(t, summarizer.summarizeCalls)
}

func TestCustomEstimator(t *testing.T) {
	svc, c := newChat(t)
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "short")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, c.ID, "aria", "also short")
	require.NoError(t, err)

	// An estimator that prices everything over budget forces a pass.
	summarizer := &fakeSummarizer{}
	policy := compaction.NewPolicy(svc, summarizer, testConfig()).
		WithEstimator(func(string) int { return 1000 })
	require.NoError(t, policy.Run(ctx, c.ID))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, got.Messages)
	require.Len(t, got.Memories, 1)
	require.Equal(t, 1, summarizer.summarizeCalls)
}

func TestTranscriptFormat(t *testing.T) {
	messages := []chatModel.Message{
		{SenderID: chatModel.SenderUser, Content: "hello"},
		{SenderID: "aria", Content: "welcome in"},
	}
	got := compaction.Transcript(messages)
	require.Equal(t, "User: hello\naria: welcome in\n", got)
}
