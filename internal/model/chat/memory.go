package chat

import "time"

// MemorySummary is condensed text standing in for a block of older
// messages removed by compaction. SummarizedMessageIDs records which
// messages it replaced; those messages no longer exist, the ids are
// kept for provenance only.
type MemorySummary struct {
	ID                   string    `json:"id"`
	Content              string    `json:"content"`
	SummarizedMessageIDs []string  `json:"summarizedMessageIds"`
	StartTime            time.Time `json:"startTime"`
	EndTime              time.Time `json:"endTime"`
	CreatedAt            time.Time `json:"createdAt"`
}
