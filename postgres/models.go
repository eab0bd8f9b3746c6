package postgres

import (
	"time"

	"github.com/corpos/channel/api"
	"github.com/uptrace/bun"
)

// A message represents a message in the database.
type message struct {
	bun.BaseModel `bun:"table:messages,alias:message"`

	ID            string     `bun:",pk,type:uuid,default:gen_random_uuid()"`
	Content       string     `bun:",notnull"`
	MessageType   string     `bun:",notnull,default:'text'"`
	MediaURL      *string    `bun:"media_url"`
	MediaFilename *string    `bun:"media_filename"`
	ViewCount     int        `bun:",notnull,default:0"`
	IsPinned      bool       `bun:",notnull,default:false"`
	ReactionCount int        `bun:",notnull,default:0"`
	CreatedAt     time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
	Reactions     []reaction `bun:"rel:has-many,join:id=message_id"`
}

// A reaction is one user's emoji on a message.
type reaction struct {
	bun.BaseModel `bun:"table:message_reactions,alias:reaction"`

	MessageID string    `bun:",pk,type:uuid"`
	Emoji     string    `bun:",pk"`
	UserID    string    `bun:",pk"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

func (m message) APIMessage() api.Message {
	reactions := make(api.Reactions)
	for _, r := range m.Reactions {
		reactions[r.Emoji] = append(reactions[r.Emoji], r.UserID)
	}

	return api.Message{
		ID:            m.ID,
		Content:       m.Content,
		MessageType:   api.MessageType(m.MessageType),
		MediaURL:      m.MediaURL,
		MediaFilename: m.MediaFilename,
		ViewCount:     m.ViewCount,
		IsPinned:      m.IsPinned,
		ReactionCount: m.ReactionCount,
		Reactions:     reactions,
		CreatedAt:     m.CreatedAt,
	}
}

func fromAPIMessage(msg api.Message) *message {
	return &message{
		ID:            msg.ID,
		Content:       msg.Content,
		MessageType:   string(msg.MessageType),
		MediaURL:      msg.MediaURL,
		MediaFilename: msg.MediaFilename,
		CreatedAt:     msg.CreatedAt,
	}
}
