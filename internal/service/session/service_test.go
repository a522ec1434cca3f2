package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	chatModel "github.com/mizulab/hearth/backend/internal/model/chat"
	"github.com/mizulab/hearth/backend/internal/service/session"
	"github.com/mizulab/hearth/backend/internal/store"
)

func newTestService(t *testing.T) (*session.Service, *chatModel.Chat) {
	t.Helper()
	svc := session.NewService(store.NewMemoryStore())
	c, err := svc.CreateChat(context.Background(), "aria", chatModel.ModeDirect)
	require.NoError(t, err)
	return svc, c
}

func TestAppendMessage(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	msg, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "hello there")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, 0, msg.CurrentBranchIndex)
	require.Empty(t, msg.Branches)

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "hello there", got.Messages[0].Content)
	require.True(t, got.UpdatedAt.After(c.UpdatedAt) || got.UpdatedAt.Equal(c.UpdatedAt))
}

func TestAppendMessageChatNotFound(t *testing.T) {
	svc := session.NewService(store.NewMemoryStore())
	_, err := svc.AppendMessage(context.Background(), "missing", chatModel.SenderUser, "hi")
	require.ErrorIs(t, err, session.ErrChatNotFound)
}

func TestAddBranchThenSelectNewest(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	msg, err := svc.AppendMessage(ctx, c.ID, "aria", "take one")
	require.NoError(t, err)

	index, err := svc.AddBranch(ctx, c.ID, msg.ID, "take two")
	require.NoError(t, err)
	require.Equal(t, 1, index)

	// AddBranch leaves the selection alone.
	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Messages[0].CurrentBranchIndex)

	require.NoError(t, svc.SetBranchIndex(ctx, c.ID, msg.ID, index))
	got, err = svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "take two", got.Messages[0].ActiveContent())
}

func TestAddBranchMessageNotFound(t *testing.T) {
	svc, c := newTestService(t)
	_, err := svc.AddBranch(context.Background(), c.ID, "nope", "text")
	require.ErrorIs(t, err, session.ErrMessageNotFound)
}

func TestSetBranchIndexOutOfRange(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	msg, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "original")
	require.NoError(t, err)

	require.ErrorIs(t, svc.SetBranchIndex(ctx, c.ID, msg.ID, 1), session.ErrBranchOutOfRange)
	require.ErrorIs(t, svc.SetBranchIndex(ctx, c.ID, msg.ID, -1), session.ErrBranchOutOfRange)
}

func TestEditPreservesOriginal(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	msg, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "original")
	require.NoError(t, err)

	// Edit the message five times the way the edit workflow does:
	// branch, then select.
	for i := 1; i <= 5; i++ {
		index, err := svc.AddBranch(ctx, c.ID, msg.ID, "edit")
		require.NoError(t, err)
		require.Equal(t, i, index)
		require.NoError(t, svc.SetBranchIndex(ctx, c.ID, msg.ID, index))
	}

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "original", got.Messages[0].Content)
	require.Len(t, got.Messages[0].Branches, 5)

	// The original is recoverable via index zero.
	require.NoError(t, svc.SetBranchIndex(ctx, c.ID, msg.ID, 0))
	got, err = svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "original", got.Messages[0].ActiveContent())
}

func TestPairedBranchSync(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	userMsg, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "question")
	require.NoError(t, err)
	replyMsg, err := svc.AppendMessage(ctx, c.ID, "aria", "answer")
	require.NoError(t, err)

	// Two branches on the user turn, one on the reply.
	for i := 0; i < 2; i++ {
		_, err = svc.AddBranch(ctx, c.ID, userMsg.ID, "question variant")
		require.NoError(t, err)
	}
	_, err = svc.AddBranch(ctx, c.ID, replyMsg.ID, "answer variant")
	require.NoError(t, err)

	// Within the reply's range, the reply follows exactly.
	require.NoError(t, svc.SetBranchIndex(ctx, c.ID, userMsg.ID, 1))
	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Messages[0].CurrentBranchIndex)
	require.Equal(t, 1, got.Messages[1].CurrentBranchIndex)

	// Beyond it, the reply clamps to its own branch count.
	require.NoError(t, svc.SetBranchIndex(ctx, c.ID, userMsg.ID, 2))
	got, err = svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Messages[0].CurrentBranchIndex)
	require.Equal(t, 1, got.Messages[1].CurrentBranchIndex)
}

func TestPairedSyncSkipsUserNeighbor(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	first, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "one")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "two")
	require.NoError(t, err)

	_, err = svc.AddBranch(ctx, c.ID, first.ID, "one edited")
	require.NoError(t, err)
	require.NoError(t, svc.SetBranchIndex(ctx, c.ID, first.ID, 1))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Messages[1].CurrentBranchIndex)
}

func TestSelectBranchFillsGap(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	msg, err := svc.AppendMessage(ctx, c.ID, "aria", "only take")
	require.NoError(t, err)

	// Jumping straight to index 3 synthesizes fillers so indices stay
	// dense.
	require.NoError(t, svc.SelectBranch(ctx, c.ID, msg.ID, 3))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	m := got.Messages[0]
	require.Len(t, m.Branches, 3)
	require.Equal(t, 3, m.CurrentBranchIndex)
	for _, b := range m.Branches {
		require.Equal(t, "only take", b.Content)
	}
}

func TestBranchInvariantHolds(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	msg, err := svc.AppendMessage(ctx, c.ID, "aria", "start")
	require.NoError(t, err)

	ops := []func() error{
		func() error { _, err := svc.AddBranch(ctx, c.ID, msg.ID, "alt"); return err },
		func() error { return svc.SetBranchIndex(ctx, c.ID, msg.ID, 1) },
		func() error { return svc.SelectBranch(ctx, c.ID, msg.ID, 4) },
		func() error { return svc.SetBranchIndex(ctx, c.ID, msg.ID, 0) },
	}
	for _, op := range ops {
		require.NoError(t, op())
		got, err := svc.GetChat(ctx, c.ID)
		require.NoError(t, err)
		m := got.Messages[0]
		require.GreaterOrEqual(t, m.CurrentBranchIndex, 0)
		require.LessOrEqual(t, m.CurrentBranchIndex, len(m.Branches))
	}
}

func TestUpdateMessagePatchesActiveSlot(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	msg, err := svc.AppendMessage(ctx, c.ID, "aria", "bonjour")
	require.NoError(t, err)

	translated := "hello"
	require.NoError(t, svc.UpdateMessage(ctx, c.ID, msg.ID, session.UpdatePatch{TranslatedContent: &translated}))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Messages[0].TranslatedContent)
	require.Empty(t, got.Messages[0].Branches)

	// With a branch active, the branch gets patched, not the original.
	_, err = svc.AddBranch(ctx, c.ID, msg.ID, "salut")
	require.NoError(t, err)
	require.NoError(t, svc.SetBranchIndex(ctx, c.ID, msg.ID, 1))
	branchTranslated := "hi"
	require.NoError(t, svc.UpdateMessage(ctx, c.ID, msg.ID, session.UpdatePatch{TranslatedContent: &branchTranslated}))

	got, err = svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Messages[0].TranslatedContent)
	require.Equal(t, "hi", got.Messages[0].Branches[0].TranslatedContent)
}

func TestRemoveMessages(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	first, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "one")
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, c.ID, "aria", "two")
	require.NoError(t, err)
	third, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "three")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveMessages(ctx, c.ID, []string{first.ID, third.ID}))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "two", got.Messages[0].Content)
}

func TestMemoryLedger(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := chatModel.MemorySummary{ID: "m1", Content: "early days", CreatedAt: base, StartTime: base}
	newer := chatModel.MemorySummary{ID: "m2", Content: "later on", CreatedAt: base.Add(time.Hour), StartTime: base.Add(time.Hour)}

	require.NoError(t, svc.AddMemory(ctx, c.ID, newer))
	require.NoError(t, svc.AddMemory(ctx, c.ID, older))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "m1", session.OldestMemory(got).ID)

	require.NoError(t, svc.RemoveMemories(ctx, c.ID, []string{"m1"}))
	got, err = svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Memories, 1)
	require.Equal(t, "m2", session.OldestMemory(got).ID)
}

func TestOldestMemoryTieBreaksOnStartTime(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := chatModel.MemorySummary{ID: "a", CreatedAt: created, StartTime: created.Add(time.Hour)}
	b := chatModel.MemorySummary{ID: "b", CreatedAt: created, StartTime: created}

	require.NoError(t, svc.AddMemory(ctx, c.ID, a))
	require.NoError(t, svc.AddMemory(ctx, c.ID, b))

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "b", session.OldestMemory(got).ID)
}

func TestMutateRollbackOnError(t *testing.T) {
	svc, c := newTestService(t)
	ctx := context.Background()

	_, err := svc.AppendMessage(ctx, c.ID, chatModel.SenderUser, "keep me")
	require.NoError(t, err)

	boom := svc.Mutate(ctx, c.ID, func(chatObj *chatModel.Chat) error {
		chatObj.Messages = nil
		return session.ErrBranchOutOfRange
	})
	require.ErrorIs(t, boom, session.ErrBranchOutOfRange)

	got, err := svc.GetChat(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
}
