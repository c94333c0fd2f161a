// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"time"

	"go.astrophena.name/retell/internal/util/syncx"
)

// MemStore is an in-memory implementation of the [Store] interface.
type MemStore struct {
	ttl   time.Duration
	cache *syncx.Protected[map[string]cacheEntry]
}

type cacheEntry struct {
	value        []byte
	lastAccessed time.Time
}

// NewMemStore creates a new MemStore. Entries not accessed for ttl are
// evicted; a zero ttl keeps them forever.
func NewMemStore(ctx context.Context, ttl time.Duration) *MemStore {
	s := &MemStore{
		ttl:   ttl,
		cache: syncx.Protect(make(map[string]cacheEntry)),
	}
	if ttl > 0 {
		go s.cleanup(ctx)
	}
	return s
}

func (s *MemStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cache.Access(func(m map[string]cacheEntry) {
				for key, entry := range m {
					if s.expired(entry) {
						delete(m, key)
					}
				}
			})
		case <-ctx.Done():
			return
		}
	}
}

func (s *MemStore) expired(e cacheEntry) bool {
	return s.ttl > 0 && time.Since(e.lastAccessed) > s.ttl
}

// Get retrieves a value for a given key.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	s.cache.Access(func(m map[string]cacheEntry) {
		entry, ok := m[key]
		if !ok {
			return
		}
		if s.expired(entry) {
			delete(m, key)
			return
		}
		entry.lastAccessed = time.Now()
		m[key] = entry
		// Return a copy to prevent the caller from mutating the cache.
		value = append([]byte(nil), entry.value...)
	})
	return value, nil
}

// Set stores a value for a given key.
func (s *MemStore) Set(_ context.Context, key string, value []byte) error {
	entry := cacheEntry{
		value:        append([]byte(nil), value...),
		lastAccessed: time.Now(),
	}
	s.cache.Access(func(m map[string]cacheEntry) { m[key] = entry })
	return nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }
