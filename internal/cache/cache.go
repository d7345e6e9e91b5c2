// Package cache keeps read-through copies of application snapshots.
// The Engine invalidates an entry after every successful save so the next
// read refetches from the store.
package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

// ErrMiss is returned when an application is not cached.
var ErrMiss = errors.New("cache miss")

// Cache stores application snapshots by ID.
type Cache interface {
	Get(ctx context.Context, id string) (domain.ApplicationInfo, error)
	Set(ctx context.Context, app domain.ApplicationInfo) error
	Invalidate(ctx context.Context, id string) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu   sync.RWMutex
	apps map[string]domain.ApplicationInfo
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{apps: make(map[string]domain.ApplicationInfo)}
}

// Get returns a copy of the cached application.
func (c *MemoryCache) Get(ctx context.Context, id string) (domain.ApplicationInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.ApplicationInfo{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	app, ok := c.apps[id]
	if !ok {
		return domain.ApplicationInfo{}, ErrMiss
	}
	return app.Clone(), nil
}

// Set stores a copy of app.
func (c *MemoryCache) Set(ctx context.Context, app domain.ApplicationInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps[app.ID] = app.Clone()
	return nil
}

// Invalidate drops the entry for id.
func (c *MemoryCache) Invalidate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.apps, id)
	return nil
}
