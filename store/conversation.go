package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Turn 是会话中的一轮发言。
type Turn struct {
	Role      string    `json:"role"` // user / assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ConversationStore 会话存储接口。管线对它只读（取近 N 轮做上下文）；
// Append 供上层应用落库使用。
type ConversationStore interface {
	// LastTurns 返回会话最近 n 轮，时间升序。
	LastTurns(ctx context.Context, conversationID string, n int) ([]Turn, error)

	// Append 追加一轮发言。
	Append(ctx context.Context, conversationID string, turn Turn) error
}

// RedisConversationConfig 配置 Redis 会话存储。
type RedisConversationConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password,omitempty" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	// KeyPrefix 会话键前缀，默认 "answerflow:conv:"。
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	// TTL 会话键的过期时间（0 表示不过期）。
	TTL time.Duration `json:"ttl" yaml:"ttl"`
	// MaxTurns 每个会话保留的最大轮数。
	MaxTurns int `json:"max_turns" yaml:"max_turns"`
}

// DefaultRedisConversationConfig 返回默认配置。
func DefaultRedisConversationConfig() RedisConversationConfig {
	return RedisConversationConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "answerflow:conv:",
		TTL:       24 * time.Hour,
		MaxTurns:  200,
	}
}

// RedisConversationStore 基于 Redis List 的会话存储实现。
type RedisConversationStore struct {
	client *redis.Client
	cfg    RedisConversationConfig
	logger *zap.Logger
}

// NewRedisConversationStore 创建 Redis 会话存储。
func NewRedisConversationStore(cfg RedisConversationConfig, logger *zap.Logger) *RedisConversationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "answerflow:conv:"
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 200
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisConversationStore{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "conversation_store")),
	}
}

// NewRedisConversationStoreWithClient 用已有客户端创建（测试用 miniredis）。
func NewRedisConversationStoreWithClient(client *redis.Client, cfg RedisConversationConfig, logger *zap.Logger) *RedisConversationStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "answerflow:conv:"
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 200
	}
	return &RedisConversationStore{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "conversation_store")),
	}
}

func (s *RedisConversationStore) key(conversationID string) string {
	return s.cfg.KeyPrefix + conversationID
}

// LastTurns 实现 ConversationStore.LastTurns。
func (s *RedisConversationStore) LastTurns(ctx context.Context, conversationID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	// 列表右端是最新一轮；取末尾 n 条即时间升序的近 n 轮。
	values, err := s.client.LRange(ctx, s.key(conversationID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange conversation %q: %w", conversationID, err)
	}

	turns := make([]Turn, 0, len(values))
	for _, v := range values {
		var turn Turn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			s.logger.Warn("skipping malformed turn",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Append 实现 ConversationStore.Append。
func (s *RedisConversationStore) Append(ctx context.Context, conversationID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := s.key(conversationID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.cfg.MaxTurns), -1)
	if s.cfg.TTL > 0 {
		pipe.Expire(ctx, key, s.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn to %q: %w", conversationID, err)
	}
	return nil
}

// Close 关闭底层客户端。
func (s *RedisConversationStore) Close() error {
	return s.client.Close()
}

var _ ConversationStore = (*RedisConversationStore)(nil)
