package cellcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
	"github.com/rs/zerolog"
	h3 "github.com/uber/h3-go/v4"
)

// RedisStore is a Store shared across processes. Values are fixed-width
// big-endian cell identifiers; an empty value is a cached empty list.
type RedisStore struct {
	rdb       *redis.Client
	opTimeout time.Duration
	log       zerolog.Logger
}

type RedisOption func(*redis.Options)

func WithPoolSize(n int) RedisOption {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func NewRedisStore(ctx context.Context, addr string, opTimeout time.Duration, log zerolog.Logger, opts ...RedisOption) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &RedisStore{rdb: rdb, opTimeout: opTimeout, log: log}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Get(key string) ([]h3.Cell, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cellcache get failed")
		return nil, false
	}
	cells, err := decodeCells(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cellcache entry corrupt")
		return nil, false
	}
	return cells, true
}

func (s *RedisStore) Set(key string, cells []h3.Cell, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if err := s.rdb.Set(ctx, key, encodeCells(cells), ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cellcache set failed")
	}
}

func encodeCells(cells []h3.Cell) []byte {
	buf := make([]byte, 8*len(cells))
	for i, c := range cells {
		binary.BigEndian.PutUint64(buf[8*i:], uint64(c))
	}
	return buf
}

func decodeCells(raw []byte) ([]h3.Cell, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("value length %d is not a multiple of 8", len(raw))
	}
	cells := make([]h3.Cell, len(raw)/8)
	for i := range cells {
		cells[i] = h3.Cell(binary.BigEndian.Uint64(raw[8*i:]))
	}
	return cells, nil
}
