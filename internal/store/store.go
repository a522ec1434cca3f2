// Package store provides the document-store capability the session
// engine persists Chat aggregates through. Each aggregate is read and
// written whole; callers own consistency between reads and writes.
package store

import (
	"context"
	"errors"

	"github.com/mizulab/hearth/backend/internal/model/chat"
)

// ErrChatNotFound is returned when no chat exists for the given id.
var ErrChatNotFound = errors.New("chat not found")

// Store reads and writes Chat aggregates atomically.
type Store interface {
	// Create inserts a new aggregate.
	Create(ctx context.Context, c *chat.Chat) error
	// Get returns a copy of the aggregate, or ErrChatNotFound.
	Get(ctx context.Context, chatID string) (*chat.Chat, error)
	// Save replaces the stored aggregate in one write, or returns
	// ErrChatNotFound if it was never created.
	Save(ctx context.Context, c *chat.Chat) error
	// List returns all chats, most recently updated first.
	List(ctx context.Context) ([]chat.Chat, error)
	// Delete removes the aggregate. Deleting a missing chat is not an error.
	Delete(ctx context.Context, chatID string) error
}
