package chat

import "time"

// SenderUser marks a turn written by the user; any other sender id is a
// character id.
const SenderUser = "user"

// Message is one turn of the conversation. Content holds the original
// generation and is never mutated by edits or regeneration; alternates
// are appended to Branches and selected through CurrentBranchIndex
// (0 selects Content, k>0 selects Branches[k-1]).
type Message struct {
	ID                 string    `json:"id"`
	ChatID             string    `json:"chatId"`
	SenderID           string    `json:"senderId"`
	Content            string    `json:"content"`
	TranslatedContent  string    `json:"translatedContent,omitempty"`
	Branches           []Branch  `json:"branches,omitempty"`
	CurrentBranchIndex int       `json:"currentBranchIndex"`
	Error              bool      `json:"error,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// Branch is one alternate full-text generation for a message slot.
// Immutable once created; siblings, not a tree.
type Branch struct {
	ID                string    `json:"id"`
	Content           string    `json:"content"`
	TranslatedContent string    `json:"translatedContent,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// ActiveContent resolves the text selected by CurrentBranchIndex.
func (m *Message) ActiveContent() string {
	if m.CurrentBranchIndex <= 0 || m.CurrentBranchIndex > len(m.Branches) {
		return m.Content
	}
	return m.Branches[m.CurrentBranchIndex-1].Content
}

// BranchContents returns every text ever generated for this slot, the
// original first.
func (m *Message) BranchContents() []string {
	out := make([]string, 0, len(m.Branches)+1)
	out = append(out, m.Content)
	for i := range m.Branches {
		out = append(out, m.Branches[i].Content)
	}
	return out
}

// IsUser reports whether the message was sent by the user.
func (m *Message) IsUser() bool {
	return m.SenderID == SenderUser
}
