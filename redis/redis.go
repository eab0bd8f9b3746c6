package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/corpos/channel/api"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis provides message storage in Redis.
//
// Each message is a hash at <prefix>messages:<id>, indexed by creation time
// in the sorted set <prefix>messages. The emojis used on a message are in
// the set <prefix>messages:<id>:emojis and the users that reacted with one
// emoji in <prefix>messages:<id>:reactions:<emoji>.
type Redis struct {
	// Now returns the creation time for new messages. Defaults to time.Now.
	Now func() time.Time
	// Prefix is prepended to every key.
	Prefix string

	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, opts *redis.Options) (*Redis, error) {
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		Now: time.Now,
		cli: cli,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	messagePrefix = "messages"
	maxRetries    = 10
)

func (r *Redis) indexKey() string { return r.Prefix + messagePrefix }

func (r *Redis) messageKey(id string) string {
	return fmt.Sprintf("%s%s:%s", r.Prefix, messagePrefix, id)
}

func (r *Redis) emojisKey(id string) string { return r.messageKey(id) + ":emojis" }

func (r *Redis) reactionsPrefix(id string) string { return r.messageKey(id) + ":reactions:" }

// ListMessages returns all messages, oldest first.
func (r *Redis) ListMessages(ctx context.Context) ([]api.Message, error) {
	ids, err := r.cli.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	msgs, err := r.loadMessages(ctx, ids, nil)
	if err != nil {
		return nil, err
	}
	api.SortOldestFirst(msgs)
	return msgs, nil
}

// SearchMessages returns the messages whose content or media filename
// contains query, ignoring case, newest first.
func (r *Redis) SearchMessages(ctx context.Context, query string) ([]api.Message, error) {
	ids, err := r.cli.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	msgs, err := r.loadMessages(ctx, ids, func(m api.Message) bool { return m.Matches(query) })
	if err != nil {
		return nil, err
	}
	api.SortNewestFirst(msgs)
	return msgs, nil
}

// loadMessages fetches the messages in ids order, skipping ids whose hash is
// gone and those rejected by keep. Index scores are float64 and cannot tell
// apart creation times less than a few hundred nanoseconds apart, so callers
// sort the result by CreatedAt.
func (r *Redis) loadMessages(ctx context.Context, ids []string, keep func(api.Message) bool) ([]api.Message, error) {
	out := make([]api.Message, 0, len(ids))
	for _, id := range ids {
		var msg message
		if err := r.cli.HGetAll(ctx, r.messageKey(id)).Scan(&msg); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		if msg.ID == "" {
			continue
		}

		reactions, err := r.ListReactions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list reactions: %w", err)
		}
		msg.Reactions = reactions

		apiMsg := msg.APIMessage()
		if keep == nil || keep(apiMsg) {
			out = append(out, apiMsg)
		}
	}
	return out, nil
}

// ListReactions returns the reactions on a message. User lists are sorted.
func (r *Redis) ListReactions(ctx context.Context, id string) (api.Reactions, error) {
	emojis, err := r.cli.SMembers(ctx, r.emojisKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers: %w", err)
	}

	out := make(api.Reactions, len(emojis))
	for _, emoji := range emojis {
		users, err := r.cli.SMembers(ctx, r.reactionsPrefix(id)+emoji).Result()
		if err != nil {
			return nil, fmt.Errorf("smembers: %w", err)
		}
		if len(users) == 0 {
			continue
		}
		slices.Sort(users)
		out[emoji] = users
	}
	return out, nil
}

// CreateMessage adds the message hash and indexes it by creation time.
func (r *Redis) CreateMessage(ctx context.Context, nm api.NewMessage) (api.Message, error) {
	msg := nm.Build(uuid.NewString(), r.Now())
	m := fromAPIMessage(msg)
	key := r.messageKey(m.ID)

	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, m)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(m.CreatedAt),
			Member: m.ID,
		})
		return nil
	})
	if err != nil {
		return api.Message{}, fmt.Errorf("redis insert message: %w", err)
	}
	return msg, nil
}

// IncrementViewCount adds one view to the message.
func (r *Redis) IncrementViewCount(ctx context.Context, id string) error {
	key := r.messageKey(id)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil || n == 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "view_count", 1)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("increment view count: %w", err)
	}
	return nil
}

// TogglePin flips the pinned flag of the message.
func (r *Redis) TogglePin(ctx context.Context, id string) error {
	key := r.messageKey(id)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, key, "id", "is_pinned").Result()
		if err != nil {
			return err
		}
		if vals[0] == nil {
			return nil
		}
		pinned := vals[1] == "1" || vals[1] == "true"

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "is_pinned", !pinned)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("toggle pin: %w", err)
	}
	return nil
}

// toggleReaction flips one user's reaction and recounts every reaction
// set of the message in a single atomic step.
//
// KEYS: message hash, emoji index set, reaction set for the emoji.
// ARGV: user, emoji, reaction set key prefix.
var toggleReaction = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('SISMEMBER', KEYS[3], ARGV[1]) == 1 then
	redis.call('SREM', KEYS[3], ARGV[1])
	if redis.call('SCARD', KEYS[3]) == 0 then
		redis.call('SREM', KEYS[2], ARGV[2])
	end
else
	redis.call('SADD', KEYS[3], ARGV[1])
	redis.call('SADD', KEYS[2], ARGV[2])
end
local total = 0
for _, emoji in ipairs(redis.call('SMEMBERS', KEYS[2])) do
	total = total + redis.call('SCARD', ARGV[3] .. emoji)
end
redis.call('HSET', KEYS[1], 'reaction_count', total)
return total
`)

// ToggleReaction adds or removes the user's reaction with emoji.
func (r *Redis) ToggleReaction(ctx context.Context, id, userID, emoji string) error {
	userID, emoji = api.ReactionArgs(userID, emoji)
	keys := []string{
		r.messageKey(id),
		r.emojisKey(id),
		r.reactionsPrefix(id) + emoji,
	}
	if err := toggleReaction.Run(ctx, r.cli, keys, userID, emoji, r.reactionsPrefix(id)).Err(); err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}
	return nil
}

// DeleteMessage removes the message, its index entry and its reactions.
func (r *Redis) DeleteMessage(ctx context.Context, id string) error {
	emojisKey := r.emojisKey(id)
	err := r.watch(ctx, func(tx *redis.Tx) error {
		emojis, err := tx.SMembers(ctx, emojisKey).Result()
		if err != nil {
			return err
		}
		keys := []string{r.messageKey(id), emojisKey}
		for _, emoji := range emojis {
			keys = append(keys, r.reactionsPrefix(id)+emoji)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, r.indexKey(), id)
			pipe.Del(ctx, keys...)
			return nil
		})
		return err
	}, emojisKey)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// watch runs fn in an optimistic transaction on keys, retrying when another
// client modified a watched key first.
func (r *Redis) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxRetries {
		err := r.cli.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}
