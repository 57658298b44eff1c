package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sonet/internal/domain"
)

// RedisNotifier enqueues notification payloads onto a per-user Redis list
// with a TTL; downstream delivery workers drain them.
type RedisNotifier struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// notification is the queued payload.
type notification struct {
	UserID    domain.UserID `json:"user_id"`
	Summary   string        `json:"summary"`
	Timestamp int64         `json:"timestamp"`
}

// NewRedisNotifier connects using a redis URL (redis://host:port/db).
func NewRedisNotifier(url string, ttl time.Duration, logger *zap.Logger) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisNotifier{
		client: redis.NewClient(opts),
		ttl:    ttl,
		log:    logger.Named("push"),
	}, nil
}

func queueKey(uid domain.UserID) string { return "push:queue:" + uid.String() }

// Notify appends the payload and refreshes the queue TTL.
func (n *RedisNotifier) Notify(ctx context.Context, uid domain.UserID, summary string) error {
	payload, err := json.Marshal(notification{
		UserID:    uid,
		Summary:   summary,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	pipe := n.client.TxPipeline()
	pipe.RPush(ctx, queueKey(uid), payload)
	pipe.Expire(ctx, queueKey(uid), n.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push enqueue for %s: %w", uid, err)
	}
	return nil
}

// Pending returns up to limit queued notifications for a user without
// removing them.
func (n *RedisNotifier) Pending(ctx context.Context, uid domain.UserID, limit int64) ([]string, error) {
	return n.client.LRange(ctx, queueKey(uid), 0, limit-1).Result()
}

// Close releases the client.
func (n *RedisNotifier) Close() error { return n.client.Close() }

var _ domain.Notifier = (*RedisNotifier)(nil)
