package divert

import (
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sofiworker/gdivert/gcache"
)

// sentTTL 是注入后等待同一数据包出现在抓包套接字上的时间。
const sentTTL = time.Second

// sentFilter 记住最近注入的数据包，抓包套接字再次看到它们时跳过。
// 同一 TTL 内字节完全相同的其他数据包也会被跳过。
type sentFilter struct {
	cache *gcache.Timed[uint64, struct{}]
	ttl   time.Duration
}

func newSentFilter(ttl time.Duration, opts ...gcache.TimedOption) *sentFilter {
	return &sentFilter{
		cache: gcache.NewTimed[uint64, struct{}](ttl, opts...),
		ttl:   ttl,
	}
}

func (f *sentFilter) mark(raw []byte) {
	f.cache.Set(sentKey(raw), struct{}{}, f.ttl)
}

// seen 不删除条目：环回接口上同一个包会以出向和入向各出现一次。
func (f *sentFilter) seen(raw []byte) bool {
	_, ok := f.cache.Get(sentKey(raw))
	return ok
}

func (f *sentFilter) close() {
	f.cache.Close()
}

// sentKey 对 IPv4 忽略标识和头校验和，这两个字段可能由内核在发送时填写。
func sentKey(raw []byte) uint64 {
	if len(raw) < 20 || raw[0]>>4 != 4 {
		return xxhash.Sum64(raw)
	}
	var zero [2]byte
	d := xxhash.New()
	_, _ = d.Write(raw[:4])
	_, _ = d.Write(zero[:])
	_, _ = d.Write(raw[6:10])
	_, _ = d.Write(zero[:])
	_, _ = d.Write(raw[12:])
	return d.Sum64()
}
