package sync

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	stdsync "sync"
	"time"
)

// ResourceKey addresses one resource of one owning party.
type ResourceKey struct {
	Module      string
	CountryCode string
	PartyID     string
	ID          string
}

func (k ResourceKey) normalized() ResourceKey {
	return ResourceKey{
		Module:      normalizeModule(k.Module),
		CountryCode: strings.ToUpper(strings.TrimSpace(k.CountryCode)),
		PartyID:     strings.ToUpper(strings.TrimSpace(k.PartyID)),
		ID:          strings.TrimSpace(k.ID),
	}
}

func (k ResourceKey) String() string {
	k = k.normalized()
	return k.Module + "/" + k.CountryCode + "/" + k.PartyID + "/" + k.ID
}

// StoredResource is the persisted canonical document of a resource.
type StoredResource struct {
	Key         ResourceKey
	Document    json.RawMessage
	ETag        string
	LastUpdated time.Time
}

type ResourceStore interface {
	Get(ctx context.Context, key ResourceKey) (StoredResource, error)
	Put(ctx context.Context, resource StoredResource) error
	Delete(ctx context.Context, key ResourceKey) error
	List(ctx context.Context, module string, countryCode string, partyID string) ([]StoredResource, error)
}

type MemoryResourceStore struct {
	mu        stdsync.RWMutex
	resources map[string]StoredResource
}

func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{resources: map[string]StoredResource{}}
}

func (s *MemoryResourceStore) Get(_ context.Context, key ResourceKey) (StoredResource, error) {
	key = key.normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()
	resource, ok := s.resources[key.String()]
	if !ok {
		return StoredResource{}, notFoundError(key.Module, key.ID)
	}
	return cloneStored(resource), nil
}

func (s *MemoryResourceStore) Put(_ context.Context, resource StoredResource) error {
	resource.Key = resource.Key.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[resource.Key.String()] = cloneStored(resource)
	return nil
}

func (s *MemoryResourceStore) Delete(_ context.Context, key ResourceKey) error {
	key = key.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[key.String()]; !ok {
		return notFoundError(key.Module, key.ID)
	}
	delete(s.resources, key.String())
	return nil
}

func (s *MemoryResourceStore) List(_ context.Context, module string, countryCode string, partyID string) ([]StoredResource, error) {
	filter := ResourceKey{Module: module, CountryCode: countryCode, PartyID: partyID}.normalized()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredResource, 0)
	for _, resource := range s.resources {
		key := resource.Key
		if key.Module != filter.Module || key.CountryCode != filter.CountryCode || key.PartyID != filter.PartyID {
			continue
		}
		out = append(out, cloneStored(resource))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.ID < out[j].Key.ID })
	return out, nil
}

func cloneStored(in StoredResource) StoredResource {
	out := in
	out.Document = append(json.RawMessage(nil), in.Document...)
	return out
}
