package gcache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestTimed(t *testing.T) {
	t.Run("SetAndGet", func(t *testing.T) {
		c := NewTimed[string, int](0)
		defer c.Close()

		c.Set("forever", 1, 0)
		c.Set("short", 2, time.Minute)
		if v, ok := c.Get("forever"); !ok || v != 1 {
			t.Errorf("expected 1, got %v %v", v, ok)
		}
		if v, ok := c.Get("short"); !ok || v != 2 {
			t.Errorf("expected 2, got %v %v", v, ok)
		}
		c.Delete("short")
		if _, ok := c.Get("short"); ok {
			t.Error("expected deleted key to miss")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		clk := &fakeClock{t: time.Unix(100, 0)}
		c := NewTimed[uint64, struct{}](0, WithClock(clk.now))
		defer c.Close()

		c.Set(1, struct{}{}, time.Second)
		c.Set(2, struct{}{}, 0)
		clk.advance(2 * time.Second)
		if _, ok := c.Get(1); ok {
			t.Error("expected expired key to miss")
		}
		if c.Len() != 2 {
			t.Errorf("expired entries stay until eviction, len %d", c.Len())
		}
		if n := c.EvictExpired(); n != 1 {
			t.Errorf("expected 1 evicted, got %d", n)
		}
		if _, ok := c.Get(2); !ok {
			t.Error("entry without ttl must survive")
		}
	})

	t.Run("BackgroundCleanup", func(t *testing.T) {
		clk := &fakeClock{t: time.Unix(100, 0)}
		c := NewTimed[string, int](5*time.Millisecond, WithClock(clk.now))
		defer c.Close()

		c.Set("k", 1, time.Second)
		clk.advance(time.Hour)
		deadline := time.Now().Add(time.Second)
		for c.Len() != 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if c.Len() != 0 {
			t.Error("expected cleanup loop to evict the expired key")
		}
	})

	t.Run("CloseTwice", func(t *testing.T) {
		c := NewTimed[string, int](time.Millisecond)
		c.Close()
		c.Close()
		if c.stop != nil {
			t.Error("expected stop channel to be nil after Close")
		}
	})
}
