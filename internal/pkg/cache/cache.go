package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache 进程内有界 TTL 缓存，Fetch 内置并发去重：
// 同一 key 的并发回源只会执行一次，其余调用方共享结果。
// 身份信息这类软状态专用，穿透后可随时整体重建。
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[V]
	lru      *list.List // Front 为最近使用
	capacity int
	ttl      time.Duration
	group    singleflight.Group
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	elem      *list.Element
}

// New capacity 为最大条目数，ttl 为单条过期时间
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries:  make(map[string]*entry[V]),
		lru:      list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get 命中且未过期时返回缓存值
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(key, e)
		var zero V
		return zero, false
	}

	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Set 写入并按容量淘汰最久未使用的条目
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(e.elem)
		return
	}

	e := &entry[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	e.elem = c.lru.PushFront(key)
	c.entries[key] = e

	for len(c.entries) > c.capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		k := back.Value.(string)
		c.removeLocked(k, c.entries[k])
	}
}

// Fetch 先查缓存，未命中时通过 fn 回源，并发回源去重
func (c *Cache[V]) Fetch(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// 双检：等待期间可能已有协程写入
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Delete 主动失效
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
}

// Len 当前条目数
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) removeLocked(key string, e *entry[V]) {
	c.lru.Remove(e.elem)
	delete(c.entries, key)
}
