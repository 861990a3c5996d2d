package gcache

import (
	"sync"
	"time"
)

type timedEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// Timed 是并发安全的 TTL 缓存。过期条目在 Get 时不可见，
// 由后台清理或 EvictExpired 真正删除。
type Timed[K comparable, V any] struct {
	lock  sync.RWMutex
	items map[K]timedEntry[V]
	now   func() time.Time
	stop  chan struct{}
}

type TimedOption func(*timedConfig)

type timedConfig struct {
	now func() time.Time
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) TimedOption {
	return func(c *timedConfig) { c.now = now }
}

// NewTimed 创建缓存；cleanupInterval 大于 0 时启动后台清理，需要 Close 停止。
func NewTimed[K comparable, V any](cleanupInterval time.Duration, opts ...TimedOption) *Timed[K, V] {
	cfg := timedConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Timed[K, V]{
		items: make(map[K]timedEntry[V]),
		now:   cfg.now,
	}
	if cleanupInterval > 0 {
		c.stop = make(chan struct{})
		go c.cleanupLoop(cleanupInterval, c.stop)
	}
	return c
}

func (c *Timed[K, V]) Get(key K) (V, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	var zero V
	entry, ok := c.items[key]
	if !ok || c.expired(entry, c.now()) {
		return zero, false
	}
	return entry.value, true
}

// Set 的 ttl 不大于 0 时条目永不过期。
func (c *Timed[K, V]) Set(key K, value V, ttl time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.items[key] = timedEntry[V]{value: value, expiresAt: expiresAt}
}

func (c *Timed[K, V]) Delete(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.items, key)
}

// Len 包含已过期但尚未清理的条目。
func (c *Timed[K, V]) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.items)
}

// EvictExpired 删除过期条目并返回删除数量。
func (c *Timed[K, V]) EvictExpired() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.items {
		if c.expired(entry, now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Close 停止后台清理，可以重复调用。
func (c *Timed[K, V]) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Timed[K, V]) expired(e timedEntry[V], now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (c *Timed[K, V]) cleanupLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.EvictExpired()
		case <-stop:
			return
		}
	}
}
