package cache

import (
	"github.com/dgraph-io/ristretto"
)

// RistrettoIDCache 名称 <-> id 缓存，按条目计费
type RistrettoIDCache struct {
	cache *ristretto.Cache
}

// Config ristretto 参数，零值取默认
type Config struct {
	NumCounters int64 // 约为最大条目数的 10 倍
	MaxCost     int64 // 最大条目数
	BufferItems int64
}

func New(cfg Config) (*RistrettoIDCache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 10_000
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoIDCache{cache: c}, nil
}

func (c *RistrettoIDCache) GetID(key string) (int64, bool) {
	v, ok := c.cache.Get("id:" + key)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func (c *RistrettoIDCache) SetID(key string, id int64) {
	c.cache.Set("id:"+key, id, 1)
}

func (c *RistrettoIDCache) GetName(key string) (string, bool) {
	v, ok := c.cache.Get("name:" + key)
	if !ok {
		return "", false
	}
	name, ok := v.(string)
	return name, ok
}

func (c *RistrettoIDCache) SetName(key string, name string) {
	c.cache.Set("name:"+key, name, 1)
}

// Wait 阻塞直到缓冲写入生效
func (c *RistrettoIDCache) Wait() { c.cache.Wait() }

func (c *RistrettoIDCache) Close() { c.cache.Close() }
