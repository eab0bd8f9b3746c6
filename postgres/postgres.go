package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/corpos/channel/api"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	// Now returns the creation time for new messages. Defaults to time.Now.
	Now func() time.Time

	bun *bun.DB
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		Now: time.Now,
		bun: db,
	}, nil
}

// Close closes the database connection pool.
func (pg *Postgres) Close() error {
	return pg.bun.Close()
}

// CreateSchema creates the messages and message_reactions tables if they do
// not exist yet.
func (pg *Postgres) CreateSchema(ctx context.Context) error {
	if _, err := pg.bun.NewCreateTable().
		Model((*message)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}
	if _, err := pg.bun.NewCreateTable().
		Model((*reaction)(nil)).
		IfNotExists().
		ForeignKey(`("message_id") REFERENCES "messages" ("id") ON DELETE CASCADE`).
		Exec(ctx); err != nil {
		return fmt.Errorf("create message_reactions table: %w", err)
	}
	return nil
}

// ListMessages returns all messages in the database, oldest first.
func (pg *Postgres) ListMessages(ctx context.Context) ([]api.Message, error) {
	return pg.selectMessages(ctx, "ASC", nil)
}

// SearchMessages returns the messages whose content or media filename
// contains query, ignoring case, newest first.
func (pg *Postgres) SearchMessages(ctx context.Context, query string) ([]api.Message, error) {
	pattern := "%" + escapeLike(query) + "%"
	return pg.selectMessages(ctx, "DESC", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.content ILIKE ? OR ?TableAlias.media_filename ILIKE ?", pattern, pattern)
	})
}

func (pg *Postgres) selectMessages(ctx context.Context, dir string, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]api.Message, error) {
	var msgs []message
	q := pg.bun.NewSelect().
		Model(&msgs).
		Relation("Reactions", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("?TableAlias.created_at ASC, ?TableAlias.user_id ASC")
		}).
		OrderExpr("?TableAlias.created_at " + dir)
	if filter != nil {
		q = filter(q)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]api.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.APIMessage()
	}

	return out, nil
}

// CreateMessage inserts a message into the database.
func (pg *Postgres) CreateMessage(ctx context.Context, nm api.NewMessage) (api.Message, error) {
	msg := nm.Build(uuid.NewString(), pg.Now())
	if _, err := pg.bun.NewInsert().Model(fromAPIMessage(msg)).Exec(ctx); err != nil {
		return api.Message{}, fmt.Errorf("insert: %w", err)
	}
	return msg, nil
}

// IncrementViewCount adds one view to the message.
func (pg *Postgres) IncrementViewCount(ctx context.Context, id string) error {
	return pg.updateMessage(ctx, id, "view_count = view_count + 1")
}

// TogglePin flips the pinned flag of the message.
func (pg *Postgres) TogglePin(ctx context.Context, id string) error {
	return pg.updateMessage(ctx, id, "is_pinned = NOT is_pinned")
}

func (pg *Postgres) updateMessage(ctx context.Context, id, set string) error {
	if uuid.Validate(id) != nil {
		return nil
	}
	if _, err := pg.bun.NewUpdate().
		Model((*message)(nil)).
		Set(set).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// ToggleReaction adds or removes the user's reaction with emoji and
// recounts the message's reactions in the same transaction.
func (pg *Postgres) ToggleReaction(ctx context.Context, id, userID, emoji string) error {
	if uuid.Validate(id) != nil {
		return nil
	}
	userID, emoji = api.ReactionArgs(userID, emoji)

	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m message
		err := tx.NewSelect().
			Model(&m).
			Column("id").
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock message: %w", err)
		}

		res, err := tx.NewDelete().
			Model((*reaction)(nil)).
			Where("message_id = ? AND emoji = ? AND user_id = ?", id, emoji, userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		if removed == 0 {
			r := &reaction{MessageID: id, Emoji: emoji, UserID: userID, CreatedAt: pg.Now()}
			if _, err := tx.NewInsert().Model(r).Exec(ctx); err != nil {
				return fmt.Errorf("insert reaction: %w", err)
			}
		}

		count := tx.NewSelect().
			Model((*reaction)(nil)).
			ColumnExpr("count(*)").
			Where("message_id = ?", id)
		if _, err := tx.NewUpdate().
			Model((*message)(nil)).
			Set("reaction_count = (?)", count).
			Where("id = ?", id).
			Exec(ctx); err != nil {
			return fmt.Errorf("update reaction count: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}
	return nil
}

// DeleteMessage deletes the message and, through the foreign key, its
// reactions.
func (pg *Postgres) DeleteMessage(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return nil
	}
	if _, err := pg.bun.NewDelete().
		Model((*message)(nil)).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
