// Package redis provides a Redis-backed journal backend.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/storage"
)

const (
	KeyAddr         = "addr"
	KeyPassword     = "password"
	KeyDB           = "db"
	KeyMaxRetries   = "max_retries"
	KeyDialTimeout  = "dial_timeout"
	KeyReadTimeout  = "read_timeout"
	KeyWriteTimeout = "write_timeout"
	KeyKeyPrefix    = "key_prefix"
	KeyTTL          = "ttl"
)

func init() {
	physical.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default options for the Redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:         "localhost:6379",
		KeyDB:           "0",
		KeyMaxRetries:   "3",
		KeyDialTimeout:  "5s",
		KeyReadTimeout:  "3s",
		KeyWriteTimeout: "3s",
		KeyKeyPrefix:    "ocpp:journal:",
		KeyTTL:          "0",
	}
}

// NewFactory connects to Redis and verifies the connection.
func NewFactory(ctx context.Context, opts storage.Options) (physical.Backend, error) {
	addr, err := opts.Required(KeyAddr)
	if err != nil {
		return nil, err
	}
	db, err := opts.Int(KeyDB)
	if err != nil {
		return nil, err
	}
	if db < 0 {
		return nil, storage.NewConfigError("redis", KeyDB, "must be non-negative")
	}
	maxRetries, err := opts.Int(KeyMaxRetries)
	if err != nil {
		return nil, err
	}
	dialTimeout, err := opts.Duration(KeyDialTimeout)
	if err != nil {
		return nil, err
	}
	readTimeout, err := opts.Duration(KeyReadTimeout)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := opts.Duration(KeyWriteTimeout)
	if err != nil {
		return nil, err
	}
	ttl, err := opts.Duration(KeyTTL)
	if err != nil {
		return nil, err
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.String(KeyPassword),
		DB:           db,
		MaxRetries:   maxRetries,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, storage.NewConfigErrorWithCause("redis", KeyAddr, "failed to connect", err)
	}

	prefix := opts.String(KeyKeyPrefix)
	slog.Info("redis journal initialized", "component", "journal", "addr", addr, "db", db, "key_prefix", prefix)
	return NewWithClient(client, prefix, ttl), nil
}

// Backend stores each record as JSON under <prefix>rec:<id> and indexes it
// in sorted sets scored by completion time in microseconds.
type Backend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	closed atomic.Bool
}

// NewWithClient wraps an existing client. A zero ttl keeps records forever.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Backend {
	if prefix == "" {
		prefix = "ocpp:journal:"
	}
	return &Backend{client: client, prefix: prefix, ttl: ttl}
}

func (b *Backend) recordKey(id string) string { return b.prefix + "rec:" + id }

func (b *Backend) indexKey(action string) string {
	if action == "" {
		return b.prefix + "idx:*"
	}
	return b.prefix + "idx:" + action
}

func (b *Backend) Put(ctx context.Context, rec *physical.Record) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}

	old, err := b.Get(ctx, rec.RequestID)
	if err != nil && !errors.Is(err, physical.ErrNotFound) {
		return err
	}

	score := float64(rec.CompletedAt.UnixMicro())
	pipe := b.client.TxPipeline()
	if old != nil && old.Action != rec.Action {
		pipe.ZRem(ctx, b.indexKey(old.Action), rec.RequestID)
	}
	pipe.Set(ctx, b.recordKey(rec.RequestID), data, b.ttl)
	pipe.ZAdd(ctx, b.indexKey(""), redis.Z{Score: score, Member: rec.RequestID})
	pipe.ZAdd(ctx, b.indexKey(rec.Action), redis.Z{Score: score, Member: rec.RequestID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, requestID string) (*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	data, err := b.client.Get(ctx, b.recordKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec physical.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("redis get: decode: %w", err)
	}
	return &rec, nil
}

func (b *Backend) List(ctx context.Context, opts physical.ListOptions) ([]*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	idxKey := b.indexKey(opts.Action)
	ids, err := b.client.ZRevRange(ctx, idxKey, 0, int64(opts.EffectiveLimit()-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.recordKey(id)
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	out := make([]*physical.Record, 0, len(vals))
	var expired []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Record expired by TTL; drop its index entry.
			expired = append(expired, ids[i])
			continue
		}
		var rec physical.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("redis list: decode %q: %w", ids[i], err)
		}
		out = append(out, &rec)
	}
	if len(expired) > 0 {
		_ = b.client.ZRem(ctx, idxKey, expired...).Err()
	}
	return out, nil
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
