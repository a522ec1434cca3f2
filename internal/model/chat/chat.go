package chat

import "time"

// Mode selects how the prompt builder frames the conversation.
type Mode string

const (
	// ModeDirect is the normal reply mode: the user writes their own turns.
	ModeDirect Mode = "direct"
	// ModeAutopilot asks the model to carry both sides of the exchange.
	ModeAutopilot Mode = "autopilot"
)

// Chat is the conversation aggregate: the ordered message history plus
// the memory summaries that replaced compacted ranges. A chat owns its
// messages and memories exclusively; nothing here is shared across chats.
type Chat struct {
	ID          string          `json:"id"`
	CharacterID string          `json:"characterId"`
	Mode        Mode            `json:"mode"`
	Messages    []Message       `json:"messages"`
	Memories    []MemorySummary `json:"memorySummaries"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// MessageIndex returns the position of the message with the given id,
// or -1 when absent.
func (c *Chat) MessageIndex(messageID string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}
