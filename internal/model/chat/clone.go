package chat

// Clone returns a deep copy of the aggregate. Stores hand out clones so
// callers never alias the canonical slices.
func (c *Chat) Clone() *Chat {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i := range c.Messages {
		m := c.Messages[i]
		m.Branches = append([]Branch(nil), m.Branches...)
		out.Messages[i] = m
	}
	out.Memories = make([]MemorySummary, len(c.Memories))
	for i := range c.Memories {
		s := c.Memories[i]
		s.SummarizedMessageIDs = append([]string(nil), s.SummarizedMessageIDs...)
		out.Memories[i] = s
	}
	return &out
}
