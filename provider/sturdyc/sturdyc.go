package sturdyc

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// Provider stores persisted query frames in a sharded sturdyc cache. TTL and
// eviction are configured once for the whole cache.
type Provider struct {
	c *sturdyc.Client[[]byte]
}

type Config struct {
	Capacity  int
	NumShards int
	TTL       time.Duration
	// EvictionPercentage of a full shard is dropped on insert.
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// ConfigError names the invalid Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "sturdyc provider: " + e.Field + " " + e.Message
}

func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts []sturdyc.Option
	if cfg.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}
	c := sturdyc.New[[]byte](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage, opts...)
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.c.Set(key, append([]byte(nil), value...))
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Delete(key)
	return nil
}

// Close is a no-op; sturdyc has no resources to release.
func (p *Provider) Close(context.Context) error { return nil }

// Size reports the number of stored frames.
func (p *Provider) Size() int { return p.c.Size() }
