package cache

import (
	"context"
	"fmt"
	"time"

	"cart-svc/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const messageTTL = time.Hour

func InitRedis(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr()))
	return rdb, nil
}

// MessageStore keeps per-user status messages between a redirect and the view that shows them.
type MessageStore struct {
	rdb *redis.Client
}

func NewMessageStore(rdb *redis.Client) *MessageStore {
	return &MessageStore{rdb: rdb}
}

func messagesKey(userID int) string {
	return fmt.Sprintf("messages:%d", userID)
}

func (s *MessageStore) Push(ctx context.Context, userID int, messages ...string) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, len(messages))
	for i, m := range messages {
		values[i] = m
	}

	key := messagesKey(userID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, messageTTL)
		return nil
	})
	return err
}

// Drain returns the queued messages in order and removes them.
func (s *MessageStore) Drain(ctx context.Context, userID int) ([]string, error) {
	key := messagesKey(userID)

	var lrange *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lrange.Val(), nil
}

// CheckoutGuard rejects a second submission of the same checkout attempt.
type CheckoutGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCheckoutGuard(rdb *redis.Client, ttl time.Duration) *CheckoutGuard {
	return &CheckoutGuard{rdb: rdb, ttl: ttl}
}

func checkoutKey(userID int, idempotencyKey string) string {
	return fmt.Sprintf("checkout:%d:%s", userID, idempotencyKey)
}

// Acquire returns false when the attempt is already in flight or has completed.
func (g *CheckoutGuard) Acquire(ctx context.Context, userID int, idempotencyKey string) (bool, error) {
	return g.rdb.SetNX(ctx, checkoutKey(userID, idempotencyKey), "1", g.ttl).Result()
}

// Release frees a failed attempt so it can be submitted again.
func (g *CheckoutGuard) Release(ctx context.Context, userID int, idempotencyKey string) error {
	return g.rdb.Del(ctx, checkoutKey(userID, idempotencyKey)).Err()
}
