package bookmark

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/playcore/internal/logger"
)

// RedisStore keeps bookmarks as JSON values under prefix+item, with a
// sorted set ordering them by save time.
type RedisStore struct {
	client *redis.Client
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. A ttl of zero keeps
// bookmarks forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisStore {
	if prefix == "" {
		prefix = "playcore:bookmarks:"
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RedisStore{
		client: client,
		logger: log.WithField("component", "bookmark_store"),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisStore) recentKey() string {
	return r.prefix + "recent"
}

func (r *RedisStore) Save(ctx context.Context, b Bookmark) error {
	if b.SavedAt.IsZero() {
		b.SavedAt = time.Now()
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal bookmark: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefix+b.Item, data, r.ttl)
	pipe.ZAdd(ctx, r.recentKey(), redis.Z{Score: float64(b.SavedAt.UnixMilli()), Member: b.Item})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save bookmark: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"item": b.Item,
		"time": b.Time,
	}).Debug("Bookmark saved")
	return nil
}

func (r *RedisStore) Load(ctx context.Context, item string) (Bookmark, error) {
	data, err := r.client.Get(ctx, r.prefix+item).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Bookmark{}, ErrNotFound
		}
		return Bookmark{}, fmt.Errorf("failed to load bookmark: %w", err)
	}

	var b Bookmark
	if err := json.Unmarshal(data, &b); err != nil {
		return Bookmark{}, fmt.Errorf("failed to unmarshal bookmark: %w", err)
	}
	return b, nil
}

func (r *RedisStore) Delete(ctx context.Context, item string) error {
	deleted, err := r.client.Del(ctx, r.prefix+item).Result()
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	if err := r.client.ZRem(ctx, r.recentKey(), item).Err(); err != nil {
		r.logger.WithError(err).Warn("Failed to remove bookmark from recent set")
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent skips members whose value already expired and prunes them from
// the recent set.
func (r *RedisStore) Recent(ctx context.Context, n int) ([]Bookmark, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	items, err := r.client.ZRevRange(ctx, r.recentKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	if len(items) == 0 {
		return []Bookmark{}, nil
	}

	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = r.prefix + item
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load bookmarks: %w", err)
	}

	out := make([]Bookmark, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			r.client.ZRem(ctx, r.recentKey(), items[i])
			continue
		}
		var b Bookmark
		if err := json.Unmarshal([]byte(s), &b); err != nil {
			r.logger.WithError(err).WithField("item", items[i]).Warn("Skipping unreadable bookmark")
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
