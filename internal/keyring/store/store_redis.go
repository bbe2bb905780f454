package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"keyward/internal/keyring"
	"keyward/internal/keyring/models"
	"keyward/pkg/platform/sentinel"
)

const (
	// Redis key layout, per keyring path:
	//   kr:{path}         hash with meta fields (secret hash)
	//   kr:{path}:ids     list of record ids in insertion order
	//   kr:{path}:rec:{id} JSON-encoded record
	redisMetaPrefix = "kr:"
)

// RedisProvider serves keyrings stored in a shared Redis instance. Useful for
// distributed deployments where several daemons share one set of stores.
type RedisProvider struct {
	client *redis.Client
}

// NewRedisProvider wraps a connected client.
func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

func (p *RedisProvider) Tag() string { return "redis" }

func (p *RedisProvider) Open(_ context.Context, id models.Identifier) (keyring.Backend, error) {
	if id.Provider != p.Tag() {
		return nil, sentinel.ErrUnavailable
	}
	return &RedisStore{client: p.client, id: id}, nil
}

// RedisStore implements keyring.Backend for one keyring namespace.
type RedisStore struct {
	client *redis.Client
	id     models.Identifier

	mu       sync.Mutex
	unlocked bool
}

var _ keyring.Backend = (*RedisStore)(nil)

func (s *RedisStore) Identifier() models.Identifier { return s.id }

func (s *RedisStore) Name() string { return path.Base(s.id.Path) }

func (s *RedisStore) metaKey() string       { return redisMetaPrefix + s.id.Path }
func (s *RedisStore) idsKey() string        { return redisMetaPrefix + s.id.Path + ":ids" }
func (s *RedisStore) recKey(id string) string { return redisMetaPrefix + s.id.Path + ":rec:" + id }

func (s *RedisStore) Exists(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.metaKey()).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check keyring: %v", sentinel.ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Create(ctx context.Context, secret []byte) error {
	hash := sha256.Sum256(secret)
	ok, err := s.client.HSetNX(ctx, s.metaKey(), "secret_hash", hash[:]).Result()
	if err != nil {
		return fmt.Errorf("create keyring: %w", err)
	}
	if !ok {
		return sentinel.ErrAlreadyExists
	}
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()
	return nil
}

func (s *RedisStore) Unlock(ctx context.Context, secret []byte) error {
	stored, err := s.client.HGet(ctx, s.metaKey(), "secret_hash").Result()
	if errors.Is(err, redis.Nil) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: unlock keyring: %v", sentinel.ErrUnavailable, err)
	}
	hash := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare([]byte(stored), hash[:]) != 1 {
		return sentinel.ErrAuthFailure
	}
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()
	return nil
}

func (s *RedisStore) Rename(ctx context.Context, newPath string) error {
	exists, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	ids, err := s.client.LRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("rename keyring: %w", err)
	}
	old := &RedisStore{client: s.client, id: s.id}
	s.id.Path = newPath

	pipe := s.client.TxPipeline()
	// Clear any keyring already at the target, then move meta, ids and records.
	pipe.Del(ctx, s.metaKey(), s.idsKey())
	pipe.Rename(ctx, old.metaKey(), s.metaKey())
	if len(ids) > 0 {
		pipe.Rename(ctx, old.idsKey(), s.idsKey())
		for _, id := range ids {
			pipe.Rename(ctx, old.recKey(id), s.recKey(id))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.id = old.id
		return fmt.Errorf("rename keyring: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context) error {
	ids, err := s.client.LRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("delete keyring: %w", err)
	}
	keys := []string{s.metaKey(), s.idsKey()}
	for _, id := range ids {
		keys = append(keys, s.recKey(id))
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("delete keyring: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *RedisStore) Search(ctx context.Context, q models.Query) ([]models.Record, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	ids, err := s.client.LRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("search keyring records: %w", err)
	}
	var out []models.Record
	for _, id := range ids {
		raw, err := s.client.Get(ctx, s.recKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("search keyring records: %w", err)
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("search keyring records: decode %s: %w", id, err)
		}
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (models.Record, error) {
	if err := s.readable(ctx); err != nil {
		return models.Record{}, err
	}
	raw, err := s.client.Get(ctx, s.recKey(id.String())).Result()
	if errors.Is(err, redis.Nil) {
		return models.Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("get keyring record: %w", err)
	}
	var rec models.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.Record{}, fmt.Errorf("get keyring record: decode: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec models.Record) error {
	if err := s.readable(ctx); err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("put keyring record: encode: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recKey(rec.ID.String()), raw, 0)
	pipe.RPush(ctx, s.idsKey(), rec.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put keyring record: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, rec models.Record) error {
	if err := s.readable(ctx); err != nil {
		return err
	}
	key := s.recKey(rec.ID.String())
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("update keyring record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	rec.UpdatedAt = time.Now()
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("update keyring record: encode: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("update keyring record: %w", err)
	}
	return nil
}

func (s *RedisStore) readable(ctx context.Context) error {
	exists, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return sentinel.ErrLocked
	}
	return nil
}
