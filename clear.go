package offlinecache

import (
	"context"
	"fmt"

	"github.com/always-cache/offline-cache/cache"
	cacheregistry "github.com/always-cache/offline-cache/pkg/cache-registry"
)

// Clear deletes every named cache and every registry.
func Clear(ctx context.Context, storage cache.Storage, registry cacheregistry.Backend) error {
	names, err := storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range names {
		if _, err := storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
	}
	if err := cacheregistry.DeleteAll(ctx, registry); err != nil {
		return fmt.Errorf("delete registries: %w", err)
	}
	return nil
}

// DeleteCache deletes the named cache together with its registry.
// It reports whether the cache existed.
func DeleteCache(ctx context.Context, storage cache.Storage, registry cacheregistry.Backend, name string) (bool, error) {
	existed, err := storage.Delete(ctx, name)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if err := cacheregistry.New(registry, name).Destroy(ctx); err != nil {
		return existed, fmt.Errorf("delete registry %s: %w", name, err)
	}
	return existed, nil
}
