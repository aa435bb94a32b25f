// Package kv is the persisted collection store: one JSON value per
// (owner, key), last write wins.
package kv

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned by Store.Get when no value was written yet.
	ErrNotFound = errors.New("kv: not found")
	// ErrUnknownKey is returned for keys missing from the schema registry.
	ErrUnknownKey = errors.New("kv: unknown key")
)

// Entry is one stored value together with the schema version it was written with.
type Entry struct {
	Version int
	Value   []byte
}

type Store interface {
	Get(ctx context.Context, owner int, key string) (Entry, error)
	Put(ctx context.Context, owner int, key string, e Entry) error
	Delete(ctx context.Context, owner int, key string) error
	// Owners lists owners that have a value for key, ascending.
	Owners(ctx context.Context, key string) ([]int, error)
	// DeleteOwner removes every value of owner.
	DeleteOwner(ctx context.Context, owner int) error
}

// MemoryStore keeps entries in process memory. Used by tests and the
// "memory" driver.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int]map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int]map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, owner int, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[owner][key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Version: e.Version, Value: append([]byte(nil), e.Value...)}, nil
}

func (m *MemoryStore) Put(_ context.Context, owner int, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKey, ok := m.entries[owner]
	if !ok {
		byKey = make(map[string]Entry)
		m.entries[owner] = byKey
	}
	byKey[key] = Entry{Version: e.Version, Value: append([]byte(nil), e.Value...)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, owner int, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries[owner], key)
	return nil
}

func (m *MemoryStore) Owners(_ context.Context, key string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var owners []int
	for owner, byKey := range m.entries {
		if _, ok := byKey[key]; ok {
			owners = append(owners, owner)
		}
	}
	sort.Ints(owners)
	return owners, nil
}

func (m *MemoryStore) DeleteOwner(_ context.Context, owner int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, owner)
	return nil
}
