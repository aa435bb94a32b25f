package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Upgrade rewrites a value stored at schema version N into version N+1.
type Upgrade func(json.RawMessage) (json.RawMessage, error)

// Schema registers a key together with its current version. Upgrades is
// indexed by the version being upgraded from.
type Schema struct {
	Key      string
	Version  int
	Upgrades map[int]Upgrade
}

// Collections is the handle every feature uses to read and write its
// collections. It enforces the schema registry and serializes
// read-modify-write cycles per (owner, key) inside the process.
type Collections struct {
	store Store

	mu      sync.Mutex
	schemas map[string]Schema
	locks   map[string]*sync.Mutex
}

func NewCollections(store Store, schemas ...Schema) *Collections {
	c := &Collections{
		store:   store,
		schemas: make(map[string]Schema),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, s := range schemas {
		c.Register(s)
	}
	return c
}

// Register adds or replaces a key schema. Version 0 is treated as 1.
func (c *Collections) Register(s Schema) {
	if s.Version <= 0 {
		s.Version = 1
	}
	c.mu.Lock()
	c.schemas[s.Key] = s
	c.mu.Unlock()
}

func (c *Collections) Store() Store { return c.store }

func (c *Collections) schema(key string) (Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.schemas[key]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s, nil
}

func (c *Collections) lock(owner int, key string) func() {
	id := strconv.Itoa(owner) + "/" + key
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Owners lists owners holding a value for key.
func (c *Collections) Owners(ctx context.Context, key string) ([]int, error) {
	if _, err := c.schema(key); err != nil {
		return nil, err
	}
	return c.store.Owners(ctx, key)
}

func (c *Collections) Delete(ctx context.Context, owner int, key string) error {
	if _, err := c.schema(key); err != nil {
		return err
	}
	unlock := c.lock(owner, key)
	defer unlock()
	return c.store.Delete(ctx, owner, key)
}

func (c *Collections) read(ctx context.Context, owner int, key string) (json.RawMessage, bool, error) {
	s, err := c.schema(key)
	if err != nil {
		return nil, false, err
	}

	e, err := c.store.Get(ctx, owner, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if e.Version > s.Version {
		return nil, false, fmt.Errorf("kv: %s stored at version %d, newer than %d", key, e.Version, s.Version)
	}
	raw := json.RawMessage(e.Value)
	for v := e.Version; v < s.Version; v++ {
		up, ok := s.Upgrades[v]
		if !ok {
			return nil, false, fmt.Errorf("kv: no upgrade for %s from version %d", key, v)
		}
		if raw, err = up(raw); err != nil {
			return nil, false, fmt.Errorf("kv: upgrading %s from version %d: %w", key, v, err)
		}
	}
	return raw, true, nil
}

func (c *Collections) write(ctx context.Context, owner int, key string, v any) error {
	s, err := c.schema(key)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encoding %s: %w", key, err)
	}
	return c.store.Put(ctx, owner, key, Entry{Version: s.Version, Value: b})
}

// Read returns the value stored under key for owner, or def when nothing was
// written yet.
func Read[T any](ctx context.Context, c *Collections, owner int, key string, def T) (T, error) {
	raw, ok, err := c.read(ctx, owner, key)
	if err != nil || !ok {
		return def, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("kv: decoding %s: %w", key, err)
	}
	return v, nil
}

// Write replaces the value stored under key for owner.
func Write[T any](ctx context.Context, c *Collections, owner int, key string, v T) error {
	unlock := c.lock(owner, key)
	defer unlock()
	return c.write(ctx, owner, key, v)
}

// Update runs fn over the current value (def when empty) and stores the
// result. Concurrent Updates of the same (owner, key) in this process are
// serialized. If fn returns an error nothing is written.
func Update[T any](ctx context.Context, c *Collections, owner int, key string, def T, fn func(T) (T, error)) (T, error) {
	unlock := c.lock(owner, key)
	defer unlock()

	cur, err := Read(ctx, c, owner, key, def)
	if err != nil {
		return cur, err
	}
	next, err := fn(cur)
	if err != nil {
		return cur, err
	}
	if err := c.write(ctx, owner, key, next); err != nil {
		return cur, err
	}
	return next, nil
}
