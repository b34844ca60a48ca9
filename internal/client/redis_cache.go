package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-tr-cheques/internal/service"
)

const (
	keyPrefix          = "cheques:"
	exposureSummaryKey = keyPrefix + "exposure:summary"
	relayCursorKey     = keyPrefix + "audit-relay:cursor"
)

// RedisStore backs the exposure summary cache and the audit relay cursor.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(rdb, ttl), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: rdb, ttl: ttl}
}

// GetSummary implements service.SummaryCache. A miss returns nil, nil.
func (s *RedisStore) GetSummary(ctx context.Context) (*service.ExposureSummary, error) {
	raw, err := s.client.Get(ctx, exposureSummaryKey).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary service.ExposureSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("decode cached summary: %w", err)
	}
	return &summary, nil
}

// SetSummary stores the summary for the configured TTL. A zero TTL disables
// caching.
func (s *RedisStore) SetSummary(ctx context.Context, summary *service.ExposureSummary) error {
	if s.ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, exposureSummaryKey, raw, s.ttl).Err()
}

// LoadCursor returns the last relayed audit id, or 0 when none is stored.
func (s *RedisStore) LoadCursor(ctx context.Context) (int64, error) {
	raw, err := s.client.Get(ctx, relayCursorKey).Result()
	if stderrors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// SaveCursor persists the last relayed audit id.
func (s *RedisStore) SaveCursor(ctx context.Context, id int64) error {
	return s.client.Set(ctx, relayCursorKey, strconv.FormatInt(id, 10), 0).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ service.SummaryCache = (*RedisStore)(nil)
