// Package gcache 提供进程内缓存：定长 LRU 与按 TTL 过期的缓存。
package gcache

import (
	"container/list"
)

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRU 是定长的最近最少使用缓存，Get 与 Set 都是 O(1)。
// LRU 不是并发安全的，调用方需要自己加锁。
type LRU[K comparable, V any] struct {
	capacity int
	ll       *list.List
	items    map[K]*list.Element
	onEvict  func(K, V)
}

// NewLRU 创建容量为 capacity 的缓存，capacity 小于 1 时按 1 处理。
// onEvict 只在容量淘汰时调用，可以为 nil。
func NewLRU[K comparable, V any](capacity int, onEvict func(K, V)) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
		onEvict:  onEvict,
	}
}

// Get 命中时把条目标记为最近使用。
func (l *LRU[K, V]) Get(key K) (V, bool) {
	if elem, ok := l.items[key]; ok {
		l.ll.MoveToFront(elem)
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek 读取条目但不改变使用顺序。
func (l *LRU[K, V]) Peek(key K) (V, bool) {
	if elem, ok := l.items[key]; ok {
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Set 新增或更新条目，缓存已满时淘汰最久未使用的条目并返回 true。
func (l *LRU[K, V]) Set(key K, value V) bool {
	if elem, ok := l.items[key]; ok {
		l.ll.MoveToFront(elem)
		elem.Value.(*lruEntry[K, V]).value = value
		return false
	}

	evicted := false
	if l.ll.Len() >= l.capacity {
		if back := l.ll.Back(); back != nil {
			e := l.ll.Remove(back).(*lruEntry[K, V])
			delete(l.items, e.key)
			if l.onEvict != nil {
				l.onEvict(e.key, e.value)
			}
			evicted = true
		}
	}
	l.items[key] = l.ll.PushFront(&lruEntry[K, V]{key: key, value: value})
	return evicted
}

func (l *LRU[K, V]) Remove(key K) bool {
	elem, ok := l.items[key]
	if !ok {
		return false
	}
	l.ll.Remove(elem)
	delete(l.items, key)
	return true
}

// RemoveIf 删除所有让 fn 返回 true 的条目，返回删除数量。
func (l *LRU[K, V]) RemoveIf(fn func(K, V) bool) int {
	removed := 0
	for elem := l.ll.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*lruEntry[K, V])
		if fn(e.key, e.value) {
			l.ll.Remove(elem)
			delete(l.items, e.key)
			removed++
		}
		elem = next
	}
	return removed
}

// Range 从最近使用到最久未使用遍历，fn 返回 false 时停止。
// fn 中不能修改缓存。
func (l *LRU[K, V]) Range(fn func(K, V) bool) {
	for elem := l.ll.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*lruEntry[K, V])
		if !fn(e.key, e.value) {
			return
		}
	}
}

func (l *LRU[K, V]) Len() int {
	return l.ll.Len()
}

func (l *LRU[K, V]) Cap() int {
	return l.capacity
}
