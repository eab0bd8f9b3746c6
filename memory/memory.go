// Package memory provides a message store that lives for the lifetime of
// the process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/corpos/channel/api"
	"github.com/google/uuid"
)

// Memory stores messages in a map. It is safe for concurrent use.
type Memory struct {
	// Now returns the creation time for new messages. Defaults to time.Now.
	Now func() time.Time

	mu   sync.RWMutex
	msgs map[string]*api.Message
}

// New returns an empty store.
func New() *Memory {
	return &Memory{
		Now:  time.Now,
		msgs: make(map[string]*api.Message),
	}
}

// ListMessages returns all messages, oldest first.
func (m *Memory) ListMessages(_ context.Context) ([]api.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.Message, 0, len(m.msgs))
	for _, msg := range m.msgs {
		out = append(out, msg.Clone())
	}
	api.SortOldestFirst(out)
	return out, nil
}

// CreateMessage stores a new message with a generated id.
func (m *Memory) CreateMessage(_ context.Context, nm api.NewMessage) (api.Message, error) {
	msg := nm.Build(uuid.NewString(), m.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[msg.ID] = &msg
	return msg.Clone(), nil
}

// IncrementViewCount adds one view to the message.
func (m *Memory) IncrementViewCount(_ context.Context, id string) error {
	m.update(id, func(msg *api.Message) { msg.ViewCount++ })
	return nil
}

// TogglePin flips the pinned flag of the message.
func (m *Memory) TogglePin(_ context.Context, id string) error {
	m.update(id, func(msg *api.Message) { msg.IsPinned = !msg.IsPinned })
	return nil
}

// ToggleReaction adds or removes the user's reaction with emoji.
func (m *Memory) ToggleReaction(_ context.Context, id, userID, emoji string) error {
	m.update(id, func(msg *api.Message) { msg.ToggleReaction(userID, emoji) })
	return nil
}

// DeleteMessage removes the message.
func (m *Memory) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.msgs, id)
	return nil
}

// SearchMessages returns the messages matching query, newest first.
func (m *Memory) SearchMessages(_ context.Context, query string) ([]api.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]api.Message, 0)
	for _, msg := range m.msgs {
		if msg.Matches(query) {
			out = append(out, msg.Clone())
		}
	}
	api.SortNewestFirst(out)
	return out, nil
}

func (m *Memory) update(id string, fn func(*api.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.msgs[id]; ok {
		fn(msg)
	}
}
