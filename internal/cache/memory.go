package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time
}

// MemoryCache 进程内 TTL 缓存，未配置 Redis 时使用
type MemoryCache struct {
	mu      sync.RWMutex
	data    map[string]memoryItem
	maxSize int
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemoryCache 创建内存缓存，cleanupInterval 为 0 时不启动后台清理
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	mc := &MemoryCache{
		data:    make(map[string]memoryItem),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go mc.cleanupLoop(cleanupInterval)
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}

	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	mc.data[key] = memoryItem{data: data, expireAt: mc.now().Add(expiration)}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest any) error {
	mc.mu.RLock()
	item, ok := mc.data[key]
	mc.mu.RUnlock()

	if !ok || mc.now().After(item.expireAt) {
		return ErrCacheMiss
	}
	return json.Unmarshal(item.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

// Len 当前条目数 (包含尚未清理的过期条目)
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.data)
}

func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

// evictOldest 淘汰最早过期的条目，调用方持有写锁
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, item := range mc.data {
		if oldestKey == "" || item.expireAt.Before(oldest) {
			oldestKey, oldest = k, item.expireAt
		}
	}
	delete(mc.data, oldestKey)
}

func (mc *MemoryCache) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			mc.removeExpired()
		}
	}
}

func (mc *MemoryCache) removeExpired() {
	now := mc.now()
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for k, item := range mc.data {
		if now.After(item.expireAt) {
			delete(mc.data, k)
		}
	}
}
