package store

import (
	"context"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/samirkhoja/hookbin/internal/model"
)

// CachedConfigStore fronts an EndpointStore with a size-bounded, TTL-expiring
// cache. Writes through this store invalidate immediately; writes made elsewhere
// (another process editing the file) become visible once the entry expires.
// Cached values share maps with each other and must be treated as read-only.
type CachedConfigStore struct {
	next  EndpointStore
	cache *expirable.LRU[string, model.EndpointConfig]
}

func NewCachedConfigStore(next EndpointStore, size int, ttl time.Duration) *CachedConfigStore {
	return &CachedConfigStore{
		next:  next,
		cache: expirable.NewLRU[string, model.EndpointConfig](size, nil, ttl),
	}
}

func (s *CachedConfigStore) GetEndpointConfig(ctx context.Context, id string) (model.EndpointConfig, error) {
	if cfg, ok := s.cache.Get(id); ok {
		return cfg, nil
	}
	cfg, err := s.next.GetEndpointConfig(ctx, id)
	if err != nil {
		return model.EndpointConfig{}, err
	}
	s.cache.Add(id, cfg)
	return cfg, nil
}

func (s *CachedConfigStore) UpdateEndpointConfig(ctx context.Context, cfg model.EndpointConfig) error {
	defer s.cache.Remove(cfg.ID)
	return s.next.UpdateEndpointConfig(ctx, cfg)
}

func (s *CachedConfigStore) CreateEndpoint(ctx context.Context, cfg model.EndpointConfig) error {
	return s.next.CreateEndpoint(ctx, cfg)
}

func (s *CachedConfigStore) DeleteEndpoint(ctx context.Context, id string) error {
	defer s.cache.Remove(id)
	return s.next.DeleteEndpoint(ctx, id)
}

func (s *CachedConfigStore) ListEndpoints(ctx context.Context) ([]model.EndpointConfig, error) {
	return s.next.ListEndpoints(ctx)
}
