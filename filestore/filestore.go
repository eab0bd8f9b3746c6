// Package filestore provides a message store persisted as JSON documents
// in a data directory. Every mutation reads the whole document and writes
// it back.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corpos/channel/api"
	"github.com/google/uuid"
)

const (
	usersFile    = "users.json"
	messagesFile = "messages.json"
)

// FileStore keeps messages in <dir>/messages.json and users in
// <dir>/users.json. Operations are serialized, so it is safe for concurrent
// use within one process.
type FileStore struct {
	// Now returns the creation time for new messages. Defaults to time.Now.
	Now func() time.Time

	dir string
	mu  sync.Mutex
}

// Open creates dir and empty documents as needed.
func Open(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &FileStore{Now: time.Now, dir: dir}
	for _, name := range []string{usersFile, messagesFile} {
		_, err := os.Stat(s.path(name))
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if err := writeJSON(s.path(name), struct{}{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// ListMessages returns all messages, oldest first.
func (s *FileStore) ListMessages(_ context.Context) ([]api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readMessages()
	if err != nil {
		return nil, err
	}
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m)
	}
	api.SortOldestFirst(out)
	return out, nil
}

// CreateMessage stores a new message with a generated id.
func (s *FileStore) CreateMessage(_ context.Context, nm api.NewMessage) (api.Message, error) {
	msg := nm.Build(uuid.NewString(), s.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readMessages()
	if err != nil {
		return api.Message{}, err
	}
	msgs[msg.ID] = msg
	if err := s.writeMessages(msgs); err != nil {
		return api.Message{}, err
	}
	return msg, nil
}

// IncrementViewCount adds one view to the message.
func (s *FileStore) IncrementViewCount(_ context.Context, id string) error {
	return s.update(id, func(m *api.Message) { m.ViewCount++ })
}

// TogglePin flips the pinned flag of the message.
func (s *FileStore) TogglePin(_ context.Context, id string) error {
	return s.update(id, func(m *api.Message) { m.IsPinned = !m.IsPinned })
}

// ToggleReaction adds or removes the user's reaction with emoji.
func (s *FileStore) ToggleReaction(_ context.Context, id, userID, emoji string) error {
	return s.update(id, func(m *api.Message) { m.ToggleReaction(userID, emoji) })
}

// DeleteMessage removes the message. The document is only rewritten when
// the message existed.
func (s *FileStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readMessages()
	if err != nil {
		return err
	}
	if _, ok := msgs[id]; !ok {
		return nil
	}
	delete(msgs, id)
	return s.writeMessages(msgs)
}

// SearchMessages returns the messages matching query, newest first.
func (s *FileStore) SearchMessages(_ context.Context, query string) ([]api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readMessages()
	if err != nil {
		return nil, err
	}
	out := make([]api.Message, 0)
	for _, m := range msgs {
		if m.Matches(query) {
			out = append(out, m)
		}
	}
	api.SortNewestFirst(out)
	return out, nil
}

func (s *FileStore) update(id string, fn func(*api.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.readMessages()
	if err != nil {
		return err
	}
	m, ok := msgs[id]
	if !ok {
		return nil
	}
	fn(&m)
	msgs[id] = m
	return s.writeMessages(msgs)
}

func (s *FileStore) readMessages() (map[string]api.Message, error) {
	msgs := make(map[string]api.Message)
	if err := readJSON(s.path(messagesFile), &msgs); err != nil {
		return nil, err
	}
	// A null document decodes to a nil map.
	if msgs == nil {
		msgs = make(map[string]api.Message)
	}
	for id, m := range msgs {
		if m.Reactions == nil {
			m.Reactions = api.Reactions{}
			msgs[id] = m
		}
	}
	return msgs, nil
}

func (s *FileStore) writeMessages(msgs map[string]api.Message) error {
	return writeJSON(s.path(messagesFile), msgs)
}

// readJSON decodes the document at path into v. A missing file leaves v
// untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON replaces the document at path through a temporary file and a
// rename, so readers never observe a partial write.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	success = true
	return nil
}
