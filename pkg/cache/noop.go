package cache

import (
	"context"
)

// NoopCache never stores anything and always misses
type NoopCache struct{}

// NewNoopCache creates a cache that does nothing
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (NoopCache) Lookup(context.Context, string) (Item, error) {
	return nil, nil
}

func (NoopCache) Store(context.Context, string, Item) error {
	return nil
}
