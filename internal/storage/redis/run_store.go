// Package redis keeps clone run snapshots in Redis. Each run is a JSON string
// under "<prefix>run:<id>"; a sorted set "<prefix>runs" scored by creation
// time backs listing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// DefaultKeyPrefix namespaces keys when none is configured.
const DefaultKeyPrefix = "cloner:"

// Config holds connection and retention settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires run keys; zero keeps them forever.
	TTL time.Duration
}

// client is the subset of *redis.Client the store uses.
type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RunStore implements cloner.Repository.
type RunStore struct {
	client client
	prefix string
	ttl    time.Duration
}

// New dials Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(c, cfg.KeyPrefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c client, prefix string, ttl time.Duration) *RunStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RunStore{client: c, prefix: prefix, ttl: ttl}
}

// Close releases the connection pool.
func (s *RunStore) Close() error {
	return s.client.Close()
}

// Ping checks that the server answers.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (s *RunStore) runKey(id string) string {
	return s.prefix + "run:" + id
}

func (s *RunStore) indexKey() string {
	return s.prefix + "runs"
}

// Upsert writes the snapshot and indexes it by creation time.
func (s *RunStore) Upsert(ctx context.Context, run *cloner.CloneRun) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.runKey(run.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set run %s: %w", run.ID, err)
	}
	score := float64(run.CreatedAt.UnixNano())
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: score, Member: run.ID}).Err(); err != nil {
		return fmt.Errorf("index run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads one run. Missing or expired keys return cloner.ErrNotFound.
func (s *RunStore) Get(ctx context.Context, id string) (*cloner.CloneRun, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cloner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var run cloner.CloneRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}

// List returns runs newest first. Index entries whose key has expired are
// pruned as they are found.
func (s *RunStore) List(ctx context.Context) ([]*cloner.CloneRun, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	out := make([]*cloner.CloneRun, 0, len(ids))
	var stale []any
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if errors.Is(err, cloner.ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune run index: %w", err)
		}
	}
	return out, nil
}

// Delete removes a run and its index entry.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.runKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if err := s.client.ZRem(ctx, s.indexKey(), id).Err(); err != nil {
		return fmt.Errorf("unindex run %s: %w", id, err)
	}
	if n == 0 {
		return cloner.ErrNotFound
	}
	return nil
}
