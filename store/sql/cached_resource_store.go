package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	ocpisync "github.com/goliatone/go-ocpi/sync"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const resourceCacheKeyPrefix = "go-ocpi::resource::v1"

// CachedResourceStore serves Get through a read-through cache and drops the
// cached entry on every write.
type CachedResourceStore struct {
	base  ocpisync.ResourceStore
	cache repositorycache.CacheService
}

func NewCachedResourceStore(base ocpisync.ResourceStore, cacheService repositorycache.CacheService) (*CachedResourceStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base resource store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: resource cache service is required")
	}
	return &CachedResourceStore{base: base, cache: cacheService}, nil
}

// ResourceCacheKey returns go-ocpi::resource::v1::<module>::<cc>::<pid>::<id>
// with every segment path escaped.
func ResourceCacheKey(key ocpisync.ResourceKey) (string, error) {
	key = normalizeResourceKey(key)
	if key.Module == "" || key.ID == "" {
		return "", fmt.Errorf("sqlstore: resource module and id are required")
	}
	segments := []string{key.Module, key.CountryCode, key.PartyID, key.ID}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{resourceCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedResourceStore) Get(ctx context.Context, key ocpisync.ResourceKey) (ocpisync.StoredResource, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ocpisync.StoredResource{}, fmt.Errorf("sqlstore: cached resource store is not configured")
	}
	cacheKey, err := ResourceCacheKey(key)
	if err != nil {
		return ocpisync.StoredResource{}, err
	}
	resource, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ocpisync.StoredResource, error) {
		return s.base.Get(ctx, key)
	})
	if err != nil {
		return ocpisync.StoredResource{}, err
	}
	return cloneResource(resource), nil
}

func (s *CachedResourceStore) Put(ctx context.Context, resource ocpisync.StoredResource) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached resource store is not configured")
	}
	if err := s.base.Put(ctx, resource); err != nil {
		return err
	}
	return s.evict(ctx, resource.Key)
}

func (s *CachedResourceStore) Delete(ctx context.Context, key ocpisync.ResourceKey) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached resource store is not configured")
	}
	if err := s.base.Delete(ctx, key); err != nil {
		return err
	}
	return s.evict(ctx, key)
}

func (s *CachedResourceStore) List(ctx context.Context, module string, countryCode string, partyID string) ([]ocpisync.StoredResource, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached resource store is not configured")
	}
	return s.base.List(ctx, module, countryCode, partyID)
}

func (s *CachedResourceStore) evict(ctx context.Context, key ocpisync.ResourceKey) error {
	cacheKey, err := ResourceCacheKey(key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneResource(resource ocpisync.StoredResource) ocpisync.StoredResource {
	cloned := resource
	cloned.Document = append(json.RawMessage(nil), resource.Document...)
	return cloned
}
