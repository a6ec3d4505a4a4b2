// Package redis keeps spaces and sessions in Redis hashes, one JSON document per field.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/next-trace/scg-parking-bus/inventory"
	"github.com/next-trace/scg-parking-bus/parking"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultPrefix = "parking"

// Client is the slice of go-redis the store needs; *goredis.Client satisfies it.
type Client interface {
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	Incr(ctx context.Context, key string) *goredis.IntCmd
}

type Store struct {
	c      Client
	prefix string
}

var _ inventory.Store = (*Store)(nil)

type Option func(*Store)

// WithPrefix namespaces every key, e.g. "<prefix>:spaces".
func WithPrefix(p string) Option {
	return func(s *Store) {
		if p != "" {
			s.prefix = p
		}
	}
}

func New(c Client, opts ...Option) *Store {
	s := &Store{c: c, prefix: DefaultPrefix}
	for _, o := range opts {
		o(s)
	}

	return s
}

type Config struct {
	Addr     string
	Password string
	DB       int
	// PingTimeout bounds the startup ping; zero means two seconds.
	PingTimeout time.Duration
}

// NewWithClient connects to Redis, pings it and returns the store with its close func.
func NewWithClient(cfg Config, opts ...Option) (*Store, func(), error) {
	if cfg.Addr == "" {
		return nil, nil, errors.New("redis: addr required")
	}

	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 2 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return New(client, opts...), func() { _ = client.Close() }, nil
}

func (s *Store) spacesKey() string   { return s.prefix + ":spaces" }
func (s *Store) sessionsKey() string { return s.prefix + ":sessions" }
func (s *Store) seqKey() string      { return s.prefix + ":session-seq" }

func (s *Store) GetSpace(ctx context.Context, id int64) (parking.Space, bool, error) {
	var sp parking.Space

	found, err := s.get(ctx, s.spacesKey(), id, &sp)
	if err != nil {
		return parking.Space{}, false, fmt.Errorf("redis get space %d: %w", id, err)
	}

	return sp, found, nil
}

func (s *Store) SaveSpace(ctx context.Context, sp parking.Space) error {
	if err := s.put(ctx, s.spacesKey(), sp.ID, sp); err != nil {
		return fmt.Errorf("redis save space %d: %w", sp.ID, err)
	}

	return nil
}

// ListSpaces reads the whole space hash; the inventory is small enough for that.
func (s *Store) ListSpaces(ctx context.Context, t parking.VehicleType, st parking.Status) ([]parking.Space, error) {
	all, err := s.c.HGetAll(ctx, s.spacesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list spaces: %w", err)
	}

	var out []parking.Space

	for field, raw := range all {
		var sp parking.Space
		if err := json.Unmarshal([]byte(raw), &sp); err != nil {
			return nil, fmt.Errorf("redis decode space %s: %w", field, err)
		}

		if sp.Type == t && sp.Status == st {
			out = append(out, sp)
		}
	}

	slices.SortFunc(out, func(a, b parking.Space) int { return cmp.Compare(a.ID, b.ID) })

	return out, nil
}

func (s *Store) NextSessionID(ctx context.Context) (int64, error) {
	id, err := s.c.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis next session id: %w", err)
	}

	return id, nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (parking.Session, bool, error) {
	var ps parking.Session

	found, err := s.get(ctx, s.sessionsKey(), id, &ps)
	if err != nil {
		return parking.Session{}, false, fmt.Errorf("redis get session %d: %w", id, err)
	}

	return ps, found, nil
}

func (s *Store) SaveSession(ctx context.Context, ps parking.Session) error {
	if err := s.put(ctx, s.sessionsKey(), ps.ID, ps); err != nil {
		return fmt.Errorf("redis save session %d: %w", ps.ID, err)
	}

	return nil
}

func (s *Store) get(ctx context.Context, key string, id int64, v any) (bool, error) {
	raw, err := s.c.HGet(ctx, key, strconv.FormatInt(id, 10)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}

	return true, nil
}

func (s *Store) put(ctx context.Context, key string, id int64, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return s.c.HSet(ctx, key, strconv.FormatInt(id, 10), raw).Err()
}
