package flow

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/sofiworker/gdivert/gcache"
	"github.com/sofiworker/gdivert/gnet/layers"
	"github.com/sofiworker/gdivert/gnet/packet"
)

// Key 是五元组；没有端口的协议端口为 0。
type Key struct {
	Protocol layers.Protocol
	Src      netip.AddrPort
	Dst      netip.AddrPort
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s -> %s", k.Protocol, k.Src, k.Dst)
}

// Reverse 返回反方向的键。
func (k Key) Reverse() Key {
	return Key{Protocol: k.Protocol, Src: k.Dst, Dst: k.Src}
}

// KeyOf 从数据包头取出五元组。
func KeyOf(p *packet.Packet) Key {
	var sport, dport uint16
	if t, err := p.Transport(); err == nil {
		sport, dport = t.SrcPort(), t.DstPort()
	}
	return Key{
		Protocol: layers.Protocol(p.NetworkHeader().NextHeaderNumber()),
		Src:      netip.AddrPortFrom(p.SrcAddr(), sport),
		Dst:      netip.AddrPortFrom(p.DstAddr(), dport),
	}
}

type State struct {
	Key        Key
	StartTime  time.Time
	EndTime    time.Time
	BytesOut   uint64
	BytesIn    uint64
	PacketsOut uint32
	PacketsIn  uint32
}

func (s State) Bytes() uint64 { return s.BytesOut + s.BytesIn }

// DefaultCapacity 是默认最多跟踪的流数，超出时淘汰最久未活动的流。
const DefaultCapacity = 65536

// Tracker 按五元组累计数据包，两个方向归入同一条流。
type Tracker struct {
	flows    *gcache.LRU[Key, *State]
	mutex    sync.Mutex
	timeout  time.Duration
	capacity int
	evicted  uint64
	now      func() time.Time
}

type Option func(*Tracker)

// WithTimeout 设置 Cleanup 使用的空闲超时，默认 2 分钟。
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// WithCapacity 限制同时跟踪的流数。
func WithCapacity(n int) Option {
	return func(t *Tracker) { t.capacity = n }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		timeout:  2 * time.Minute,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.flows = gcache.NewLRU[Key, *State](t.capacity, func(Key, *State) { t.evicted++ })
	return t
}

// ProcessPacket 记录一个数据包并返回所属流的快照。
// 出向数据包计入 Out，入向计入 In。
func (t *Tracker) ProcessPacket(p *packet.Packet) State {
	key := KeyOf(p)
	now := t.now()
	size := uint64(p.Len())

	t.mutex.Lock()
	defer t.mutex.Unlock()

	state, ok := t.flows.Get(key)
	if !ok {
		if rev, found := t.flows.Get(key.Reverse()); found {
			state = rev
		} else {
			state = &State{Key: key, StartTime: now}
			t.flows.Set(key, state)
		}
	}
	state.EndTime = now
	if p.IsOutbound() {
		state.PacketsOut++
		state.BytesOut += size
	} else {
		state.PacketsIn++
		state.BytesIn += size
	}
	return *state
}

func (t *Tracker) Len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.flows.Len()
}

// Evicted 返回因容量不足被淘汰的流数。
func (t *Tracker) Evicted() uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.evicted
}

// Lookup 两个方向的键都能找到同一条流，不改变淘汰顺序。
func (t *Tracker) Lookup(k Key) (State, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if s, ok := t.flows.Peek(k); ok {
		return *s, true
	}
	if s, ok := t.flows.Peek(k.Reverse()); ok {
		return *s, true
	}
	return State{}, false
}

// Top 按字节数降序返回最多 n 条流，n <= 0 时返回全部。
func (t *Tracker) Top(n int) []State {
	t.mutex.Lock()
	out := make([]State, 0, t.flows.Len())
	t.flows.Range(func(_ Key, s *State) bool {
		out = append(out, *s)
		return true
	})
	t.mutex.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes() != out[j].Bytes() {
			return out[i].Bytes() > out[j].Bytes()
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Cleanup 删除空闲超过超时的流，返回删除的数量。
func (t *Tracker) Cleanup() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.now()
	return t.flows.RemoveIf(func(_ Key, s *State) bool {
		return now.Sub(s.EndTime) > t.timeout
	})
}

// StartCleanup 每隔 interval 调用一次 Cleanup，直到 ctx 结束。
// interval 不大于 0 时使用超时的一半。
func (t *Tracker) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.timeout / 2
	}
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
