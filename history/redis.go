package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hassaanmuzammil/pro-rag/types"
)

// RedisConfig configures the Redis-backed Store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires idle sessions. Zero keeps them until Clear.
	TTL time.Duration
	// Window bounds the turns kept per session.
	Window int
}

// RedisStore keeps session history in a Redis list per session, trimmed to
// the window on every append. Suitable for multi-instance deployments.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisStore connects and pings the Redis server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "prorag:history:"
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("history: connect redis: %w", err)
	}
	return &RedisStore{client: client, cfg: cfg}, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(sessionID string) string {
	return s.cfg.KeyPrefix + sessionID
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, turns ...types.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, len(turns))
	for i, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("history: marshal turn: %w", err)
		}
		values[i] = data
	}

	key := s.key(sessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.cfg.Window), -1)
	if s.cfg.TTL > 0 {
		pipe.Expire(ctx, key, s.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, sessionID string) ([]types.ChatTurn, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), int64(-s.cfg.Window), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: read: %w", err)
	}
	turns := make([]types.ChatTurn, 0, len(raw))
	for _, item := range raw {
		var turn types.ChatTurn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("history: decode turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}
