package redis

import (
	"time"

	"github.com/corpos/channel/api"
)

// A message represents a message hash in Redis. Reactions are kept in sets
// next to the hash.
type message struct {
	ID            string `redis:"id"`
	Content       string `redis:"content"`
	MessageType   string `redis:"message_type"`
	MediaURL      string `redis:"media_url"`
	MediaFilename string `redis:"media_filename"`
	ViewCount     int    `redis:"view_count"`
	IsPinned      bool   `redis:"is_pinned"`
	ReactionCount int    `redis:"reaction_count"`
	CreatedAt     int64  `redis:"created_at"` // unix nanoseconds
	Reactions     api.Reactions
}

func fromAPIMessage(msg api.Message) *message {
	m := &message{
		ID:          msg.ID,
		Content:     msg.Content,
		MessageType: string(msg.MessageType),
		CreatedAt:   msg.CreatedAt.UnixNano(),
	}
	if msg.MediaURL != nil {
		m.MediaURL = *msg.MediaURL
	}
	if msg.MediaFilename != nil {
		m.MediaFilename = *msg.MediaFilename
	}
	return m
}

func (m message) APIMessage() api.Message {
	apiMsg := api.Message{
		ID:            m.ID,
		Content:       m.Content,
		MessageType:   api.MessageType(m.MessageType),
		ViewCount:     m.ViewCount,
		IsPinned:      m.IsPinned,
		ReactionCount: m.ReactionCount,
		Reactions:     m.Reactions,
		CreatedAt:     time.Unix(0, m.CreatedAt).UTC(),
	}
	if apiMsg.Reactions == nil {
		apiMsg.Reactions = api.Reactions{}
	}
	if m.MediaURL != "" {
		apiMsg.MediaURL = &m.MediaURL
	}
	if m.MediaFilename != "" {
		apiMsg.MediaFilename = &m.MediaFilename
	}
	return apiMsg
}
