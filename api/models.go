package api

import (
	"slices"
	"strings"
	"time"
)

// A MessageType describes the kind of content a message carries.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeFile  MessageType = "file"
)

const (
	// DefaultEmoji is used when a reaction is toggled without an emoji.
	DefaultEmoji = "❤️"
	// AnonymousUser is used when a reaction is toggled without a user.
	AnonymousUser = "anonymous"
)

// A Message represents a persisted channel message.
type Message struct {
	ID            string      `json:"id"`
	Content       string      `json:"content"`
	MessageType   MessageType `json:"messageType"`
	MediaURL      *string     `json:"mediaUrl"`
	MediaFilename *string     `json:"mediaFilename"`
	ViewCount     int         `json:"viewCount"`
	IsPinned      bool        `json:"isPinned"`
	ReactionCount int         `json:"reactionCount"`
	Reactions     Reactions   `json:"reactions"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// NewMessage holds the caller supplied fields of a message to be created.
type NewMessage struct {
	Content       string
	MessageType   MessageType
	MediaURL      string
	MediaFilename string
}

// Reactions maps an emoji to the identities of the users that reacted with
// it.
type Reactions map[string][]string

// Count returns the total number of reactions over all emojis.
func (r Reactions) Count() int {
	n := 0
	for _, users := range r {
		n += len(users)
	}
	return n
}

// Toggle removes userID from the emoji's list if present and adds it
// otherwise. An emoji whose list becomes empty is removed.
func (r Reactions) Toggle(userID, emoji string) {
	users := r[emoji]
	if i := slices.Index(users, userID); i >= 0 {
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(r, emoji)
			return
		}
		r[emoji] = users
		return
	}
	r[emoji] = append(users, userID)
}

// ReactionArgs applies the defaults for a reaction toggle.
func ReactionArgs(userID, emoji string) (string, string) {
	if userID == "" {
		userID = AnonymousUser
	}
	if emoji == "" {
		emoji = DefaultEmoji
	}
	return userID, emoji
}

// Build returns the message created from nm with the given id and creation
// time. Counters start at zero.
func (nm NewMessage) Build(id string, now time.Time) Message {
	m := Message{
		ID:          id,
		Content:     nm.Content,
		MessageType: nm.MessageType,
		Reactions:   Reactions{},
		CreatedAt:   now,
	}
	if m.MessageType == "" {
		m.MessageType = TypeText
	}
	if nm.MediaURL != "" {
		m.MediaURL = &nm.MediaURL
	}
	if nm.MediaFilename != "" {
		m.MediaFilename = &nm.MediaFilename
	}
	return m
}

// ToggleReaction toggles the reaction and recomputes ReactionCount from the
// reaction map.
func (m *Message) ToggleReaction(userID, emoji string) {
	if m.Reactions == nil {
		m.Reactions = Reactions{}
	}
	m.Reactions.Toggle(ReactionArgs(userID, emoji))
	m.ReactionCount = m.Reactions.Count()
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.MediaURL != nil {
		u := *m.MediaURL
		out.MediaURL = &u
	}
	if m.MediaFilename != nil {
		f := *m.MediaFilename
		out.MediaFilename = &f
	}
	out.Reactions = make(Reactions, len(m.Reactions))
	for emoji, users := range m.Reactions {
		out.Reactions[emoji] = slices.Clone(users)
	}
	return out
}

// Matches reports whether the content or media filename contains query,
// ignoring case.
func (m Message) Matches(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(m.Content), q) {
		return true
	}
	return m.MediaFilename != nil && strings.Contains(strings.ToLower(*m.MediaFilename), q)
}

// SortOldestFirst orders msgs by creation time, oldest first.
func SortOldestFirst(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// SortNewestFirst orders msgs by creation time, newest first.
func SortNewestFirst(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// TypeForContentType maps a MIME type to the message type used for media
// uploaded without an explicit type.
func TypeForContentType(contentType string) MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return TypeImage
	case strings.HasPrefix(contentType, "video/"):
		return TypeVideo
	default:
		return TypeFile
	}
}
