package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/mizulab/hearth/backend/internal/model/character"
	"github.com/mizulab/hearth/backend/internal/model/chat"
)

// historyWindow bounds how many recent turns ride along verbatim;
// anything older lives in the memory summaries.
const historyWindow = 10

// PromptInput collects everything the builder folds into one call.
type PromptInput struct {
	Character character.Character
	Persona   character.Persona
	Mode      chat.Mode
	Memories  []chat.MemorySummary
	// History is the conversation up to (excluding) the turn being
	// generated; the builder applies the recency window itself.
	History []chat.Message
	// Query is the user text the model replies to.
	Query string
	// AvoidContents carries prior generations for the same slot during
	// regeneration, so the model produces something different.
	AvoidContents []string
	ReplyLanguage string
}

// BuildPrompt assembles the system prompt, windowed history, and query.
func BuildPrompt(in PromptInput) Prompt {
	return Prompt{
		System:  buildSystemPrompt(in),
		History: buildHistoryMessages(in.History),
		Query:   in.Query,
	}
}

func buildSystemPrompt(in PromptInput) string {
	var b strings.Builder

	ch := in.Character
	fmt.Fprintf(&b, "You are %s. %s\n", ch.Name, ch.Profile)
	if ch.Background != "" {
		fmt.Fprintf(&b, "Background: %s\n", ch.Background)
	}
	if len(ch.Traits) > 0 {
		fmt.Fprintf(&b, "Traits: %s\n", strings.Join(ch.Traits, ", "))
	}
	if ch.SpeechStyle != "" {
		fmt.Fprintf(&b, "Speech style: %s\n", ch.SpeechStyle)
	}
	b.WriteString("Stay in character at all times. Never speak as an AI assistant.\n")

	if in.Persona.Name != "" || in.Persona.Profile != "" {
		fmt.Fprintf(&b, "\nYou are talking to %s. %s\n", orDefault(in.Persona.Name, "the user"), in.Persona.Profile)
	}

	if in.Mode == chat.ModeAutopilot {
		b.WriteString("\nThis conversation runs on autopilot: after replying in character, continue with one short plausible message from the user's side, prefixed with their name.\n")
	}

	if len(in.Memories) > 0 {
		b.WriteString("\nEarlier parts of this conversation, summarized:\n")
		for i := range in.Memories {
			fmt.Fprintf(&b, "- %s\n", in.Memories[i].Content)
		}
	}

	if len(in.AvoidContents) > 0 {
		b.WriteString("\nYou already answered this turn with the following. Produce a noticeably different reply:\n")
		for _, prior := range in.AvoidContents {
			fmt.Fprintf(&b, "- %s\n", prior)
		}
	}

	if in.ReplyLanguage != "" {
		fmt.Fprintf(&b, "\nReply in %s.\n", in.ReplyLanguage)
	}

	return b.String()
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyWindow {
		startIdx = len(messages) - historyWindow
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for i := startIdx; i < len(messages); i++ {
		msg := &messages[i]
		if msg.Error {
			continue
		}
		if msg.IsUser() {
			history = append(history, schema.UserMessage(msg.ActiveContent()))
		} else {
			history = append(history, schema.AssistantMessage(msg.ActiveContent(), nil))
		}
	}

	return history
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
