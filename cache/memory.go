package cache

import (
	"context"
	"sort"
	"sync"
)

type memCache map[string][]byte

type memProvider struct {
	mutex *sync.RWMutex
	db    map[string]memCache
	used  int64
}

// NewMemStore returns a Store that keeps everything in memory.
func NewMemStore(opts ...Option) *Store {
	return newStore(&memProvider{
		mutex: &sync.RWMutex{},
		db:    make(map[string]memCache),
	}, opts)
}

func (m *memProvider) create(ctx context.Context, name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		m.db[name] = make(memCache)
	}
	return nil
}

func (m *memProvider) exists(ctx context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[name]
	return ok, nil
}

func (m *memProvider) names(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memProvider) drop(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, ok := m.db[name]
	if !ok {
		return false, nil
	}
	for _, b := range c {
		m.used -= int64(len(b))
	}
	delete(m.db, name)
	return true, nil
}

func (m *memProvider) get(ctx context.Context, name, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	b, ok := m.db[name][key]
	return b, ok, nil
}

func (m *memProvider) put(ctx context.Context, name, key string, b []byte, quota int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, ok := m.db[name]
	if !ok {
		c = make(memCache)
		m.db[name] = c
	}
	used := m.used - int64(len(c[key])) + int64(len(b))
	if quota > 0 && used > quota {
		return ErrQuotaExceeded
	}
	c[key] = b
	m.used = used
	return nil
}

func (m *memProvider) purge(ctx context.Context, name, key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	b, ok := m.db[name][key]
	if !ok {
		return false, nil
	}
	m.used -= int64(len(b))
	delete(m.db[name], key)
	return true, nil
}

func (m *memProvider) keys(ctx context.Context, name string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db[name]))
	for key := range m.db[name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
