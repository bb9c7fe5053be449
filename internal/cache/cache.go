package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache хранит значения с ограниченным сроком жизни.
// Источник времени подменяется в тестах через Options.Now.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Options позволяет переопределить зависимости кэша.
type Options struct {
	Now func() time.Time
}

// New создаёт пустой кэш.
func New[V any](opts Options) *Cache[V] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{entries: make(map[string]entry[V]), now: now}
}

// Get возвращает значение по ключу, если срок его жизни не истёк.
// Просроченная запись удаляется при следующем Set или Invalidate.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.entries[key]
	if !ok || c.now().After(item.expiresAt) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set сохраняет значение с указанным сроком жизни.
// Неположительный ttl делает запись немедленно просроченной.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Invalidate удаляет все записи, ключ которых начинается с prefix.
// Пустой prefix очищает кэш целиком.
func (c *Cache[V]) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prefix == "" {
		c.entries = make(map[string]entry[V])
		return
	}
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Len возвращает количество записей, включая просроченные.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
