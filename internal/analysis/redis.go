package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"GridSentinel/internal/model"
)

// DefaultRedisKey is the hash holding one field per symbol.
const DefaultRedisKey = "gridsentinel:analysis"

// RedisConfig selects the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the cache in a Redis hash so several agents can share it.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies it is reachable.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load reads every symbol's record.
func (s *RedisStore) Load(ctx context.Context) (map[string]model.AnalysisRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", s.key, err)
	}
	records := make(map[string]model.AnalysisRecord, len(fields))
	for symbol, raw := range fields {
		var rec model.AnalysisRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records[symbol] = rec
	}
	return records, nil
}

// Save replaces the hash in one transaction.
func (s *RedisStore) Save(ctx context.Context, records map[string]model.AnalysisRecord) error {
	values := make(map[string]interface{}, len(records))
	for symbol, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		values[symbol] = string(raw)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", s.key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// OpenStore returns the Redis store when an address is configured and
// reachable, and the file store otherwise.
func OpenStore(ctx context.Context, file string, cfg RedisConfig, log zerolog.Logger) Store {
	if cfg.Addr == "" {
		return NewFileStore(file)
	}
	rs, err := NewRedisStore(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("fallback", file).Msg("redis unavailable, using file analysis cache")
		return NewFileStore(file)
	}
	log.Info().Str("addr", cfg.Addr).Msg("analysis cache backed by redis")
	return rs
}
