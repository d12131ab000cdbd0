// Package redis provides a Redis-backed record provider.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/pagewatch/internal/storage"
)

const defaultPrefix = "pagewatch"

// Config controls the Redis connection used for target records.
type Config struct {
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Password    string        `mapstructure:"password" yaml:"password"`
	DB          int           `mapstructure:"db" yaml:"db"`
	Prefix      string        `mapstructure:"prefix" yaml:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// client is the subset of the go-redis API the provider needs.
type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *goredis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *goredis.IntCmd
	SMembers(ctx context.Context, key string) *goredis.StringSliceCmd
	Close() error
}

// Provider stores each record as a string key and indexes keys in a set.
type Provider struct {
	client client
	prefix string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("storage.redis.addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(rdb, cfg.Prefix)
}

// NewWithClient constructs a provider from an existing client (primarily for testing).
func NewWithClient(c client, prefix string) (*Provider, error) {
	if c == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Provider{client: c, prefix: prefix}, nil
}

// Close releases the client connection.
func (p *Provider) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// Put writes the record for key and adds key to the index set.
func (p *Provider) Put(ctx context.Context, key string, data []byte) error {
	if err := p.client.Set(ctx, p.recordKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	if err := p.client.SAdd(ctx, p.indexKey(), key).Err(); err != nil {
		return fmt.Errorf("index record: %w", err)
	}
	return nil
}

// Delete removes the record for key and drops it from the index set.
func (p *Provider) Delete(ctx context.Context, key string) error {
	removed, err := p.client.Del(ctx, p.recordKey(key)).Result()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := p.client.SRem(ctx, p.indexKey(), key).Err(); err != nil {
		return fmt.Errorf("unindex record: %w", err)
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns every indexed record ordered by key. Index entries whose
// record has disappeared are skipped.
func (p *Provider) List(ctx context.Context) ([]storage.Object, error) {
	keys, err := p.client.SMembers(ctx, p.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	sort.Strings(keys)
	objects := make([]storage.Object, 0, len(keys))
	for _, key := range keys {
		data, err := p.client.Get(ctx, p.recordKey(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get record %s: %w", key, err)
		}
		objects = append(objects, storage.Object{Key: key, Data: data})
	}
	return objects, nil
}

func (p *Provider) indexKey() string {
	return p.prefix + ":targets"
}

func (p *Provider) recordKey(key string) string {
	return p.prefix + ":target:" + key
}
