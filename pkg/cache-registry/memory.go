package cacheregistry

import (
	"context"
	"sync"
)

// Memory is a non-durable Backend, mostly useful for tests.
type Memory struct {
	mutex *sync.RWMutex
	db    map[string]map[string]Entry
}

func NewMemory() Memory {
	return Memory{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]Entry),
	}
}

func (m Memory) Put(ctx context.Context, cacheName string, entry Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.db[cacheName]
	if !ok {
		entries = make(map[string]Entry)
		m.db[cacheName] = entries
	}
	entries[entry.CacheKey] = entry
	return nil
}

func (m Memory) Entries(ctx context.Context, cacheName string) ([]Entry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]Entry, 0, len(m.db[cacheName]))
	for _, e := range m.db[cacheName] {
		entries = append(entries, e)
	}
	return entries, nil
}

func (m Memory) Delete(ctx context.Context, cacheName, cacheKey string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[cacheName], cacheKey)
	return nil
}

func (m Memory) DeleteCache(ctx context.Context, cacheName string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, cacheName)
	return nil
}

func (m Memory) DeleteAll(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for name := range m.db {
		delete(m.db, name)
	}
	return nil
}
