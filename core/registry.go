package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-ocpi/canonical"
)

const defaultPartyLockTTL = time.Minute

// PartyMutator edits a working copy of a party. Returning an error discards
// the copy.
type PartyMutator func(party *RemoteParty) error

// PartyRegistry owns every RemoteParty. Mutations for one party are
// serialized through the locker; reads return clones of the last commit.
type PartyRegistry struct {
	mu      sync.RWMutex
	parties map[string]RemoteParty
	tokens  map[string]map[string]struct{}

	store  PartyStore
	locker PartyLocker
	now    func() time.Time
	ttl    time.Duration
}

func NewPartyRegistry(store PartyStore, locker PartyLocker) *PartyRegistry {
	if store == nil {
		store = NewMemoryPartyStore()
	}
	if locker == nil {
		locker = NewMemoryPartyLocker()
	}
	return &PartyRegistry{
		parties: map[string]RemoteParty{},
		tokens:  map[string]map[string]struct{}{},
		store:   store,
		locker:  locker,
		now:     func() time.Time { return time.Now().UTC() },
		ttl:     defaultPartyLockTTL,
	}
}

// Load replaces the in-memory view with the store's content.
func (r *PartyRegistry) Load(ctx context.Context) error {
	parties, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	loaded := make(map[string]RemoteParty, len(parties))
	for _, party := range parties {
		etag, err := canonical.Hash(party, canonical.EncodingHex)
		if err != nil {
			return err
		}
		party.etag = etag
		loaded[party.ID.Key()] = party.Clone()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, party := range loaded {
		if existing, ok := r.parties[key]; ok {
			party.Config = existing.Config
			loaded[key] = party
		}
	}
	r.parties = loaded
	r.tokens = map[string]map[string]struct{}{}
	for key, party := range loaded {
		r.indexLocked(key, party)
	}
	return nil
}

func (r *PartyRegistry) Get(id PartyID) (RemoteParty, bool) {
	r.mu.RLock()
	party, ok := r.parties[id.Key()]
	r.mu.RUnlock()
	if !ok {
		return RemoteParty{}, false
	}
	return party.Clone(), true
}

func (r *PartyRegistry) List() []RemoteParty {
	r.mu.RLock()
	keys := make([]string, 0, len(r.parties))
	for key := range r.parties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]RemoteParty, 0, len(keys))
	for _, key := range keys {
		out = append(out, r.parties[key].Clone())
	}
	r.mu.RUnlock()
	return out
}

// FindByToken returns every party holding a local credential that matches
// presented, verbatim or base64 decoded.
func (r *PartyRegistry) FindByToken(presented string) []RemoteParty {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil
	}
	lookups := []string{presented}
	if decoded, err := base64.StdEncoding.DecodeString(presented); err == nil && len(decoded) > 0 {
		lookups = append(lookups, string(decoded))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []RemoteParty
	for _, token := range lookups {
		for key := range r.tokens[token] {
			if _, dup := seen[key]; dup {
				continue
			}
			party := r.parties[key]
			if _, ok := party.LocalAccess(presented); !ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, party.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Key() < out[j].ID.Key() })
	return out
}

type heldLocksKey struct{}

// WithPartyLock runs fn while holding the party's lock. Upsert calls made
// with the context passed to fn reuse the held lock.
func (r *PartyRegistry) WithPartyLock(ctx context.Context, id PartyID, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	key := id.Key()
	if holdsLock(ctx, key) {
		return fn(ctx)
	}
	handle, err := r.locker.Acquire(ctx, key, r.ttl)
	if err != nil {
		return err
	}
	defer handle.Unlock(context.WithoutCancel(ctx))
	return fn(withHeldLock(ctx, key))
}

// Upsert applies mutate to a copy of the party, creating it when absent, and
// commits the copy only when mutate and the store write both succeed.
func (r *PartyRegistry) Upsert(ctx context.Context, id PartyID, mutate PartyMutator) (RemoteParty, error) {
	var committed RemoteParty
	err := r.WithPartyLock(ctx, id, func(ctx context.Context) error {
		var err error
		committed, err = r.commitLocked(ctx, id, mutate, true)
		return err
	})
	if err != nil {
		return RemoteParty{}, err
	}
	return committed, nil
}

// Update is Upsert for parties that must already exist.
func (r *PartyRegistry) Update(ctx context.Context, id PartyID, mutate PartyMutator) (RemoteParty, error) {
	var committed RemoteParty
	err := r.WithPartyLock(ctx, id, func(ctx context.Context) error {
		var err error
		committed, err = r.commitLocked(ctx, id, mutate, false)
		return err
	})
	if err != nil {
		return RemoteParty{}, err
	}
	return committed, nil
}

func (r *PartyRegistry) commitLocked(ctx context.Context, id PartyID, mutate PartyMutator, create bool) (RemoteParty, error) {
	if err := ctx.Err(); err != nil {
		return RemoteParty{}, err
	}
	key := id.Key()
	now := r.now()

	r.mu.RLock()
	current, exists := r.parties[key]
	r.mu.RUnlock()

	var working RemoteParty
	switch {
	case exists:
		working = current.Clone()
	case !create:
		return RemoteParty{}, partyNotFoundError(id)
	default:
		if err := id.Validate(); err != nil {
			return RemoteParty{}, invalidInputError(err.Error(), map[string]any{"party": key})
		}
		working = RemoteParty{ID: id, Status: PartyStatusEnabled, Created: now}
	}

	if mutate != nil {
		if err := mutate(&working); err != nil {
			return RemoteParty{}, err
		}
	}
	if working.ID.Key() != key {
		return RemoteParty{}, invalidInputError("core: party id is immutable", map[string]any{"party": key})
	}
	if err := ctx.Err(); err != nil {
		return RemoteParty{}, err
	}

	working.LastUpdated = nextWatermark(current.LastUpdated, now)
	etag, err := canonical.Hash(working, canonical.EncodingHex)
	if err != nil {
		return RemoteParty{}, err
	}
	working.etag = etag

	if err := r.store.Save(ctx, working.Clone()); err != nil {
		return RemoteParty{}, err
	}

	r.mu.Lock()
	r.unindexLocked(key)
	r.parties[key] = working
	r.indexLocked(key, working)
	r.mu.Unlock()
	return working.Clone(), nil
}

// Delete forgets a party entirely.
func (r *PartyRegistry) Delete(ctx context.Context, id PartyID) error {
	return r.WithPartyLock(ctx, id, func(ctx context.Context) error {
		key := id.Key()
		r.mu.RLock()
		_, exists := r.parties[key]
		r.mu.RUnlock()
		if !exists {
			return partyNotFoundError(id)
		}
		if err := r.store.Delete(ctx, id); err != nil {
			return err
		}
		r.mu.Lock()
		r.unindexLocked(key)
		delete(r.parties, key)
		r.mu.Unlock()
		return nil
	})
}

func (r *PartyRegistry) indexLocked(key string, party RemoteParty) {
	for _, info := range party.LocalAccessInfos {
		if info.AccessToken == "" {
			continue
		}
		holders, ok := r.tokens[info.AccessToken]
		if !ok {
			holders = map[string]struct{}{}
			r.tokens[info.AccessToken] = holders
		}
		holders[key] = struct{}{}
	}
}

func (r *PartyRegistry) unindexLocked(key string) {
	party, ok := r.parties[key]
	if !ok {
		return
	}
	for _, info := range party.LocalAccessInfos {
		holders := r.tokens[info.AccessToken]
		delete(holders, key)
		if len(holders) == 0 {
			delete(r.tokens, info.AccessToken)
		}
	}
}

// nextWatermark is now, or one nanosecond past previous when the clock has
// not moved beyond it.
func nextWatermark(previous time.Time, now time.Time) time.Time {
	if now.After(previous) {
		return now
	}
	return previous.Add(time.Nanosecond)
}

func holdsLock(ctx context.Context, key string) bool {
	held, _ := ctx.Value(heldLocksKey{}).(map[string]struct{})
	_, ok := held[key]
	return ok
}

func withHeldLock(ctx context.Context, key string) context.Context {
	previous, _ := ctx.Value(heldLocksKey{}).(map[string]struct{})
	held := make(map[string]struct{}, len(previous)+1)
	for existing := range previous {
		held[existing] = struct{}{}
	}
	held[key] = struct{}{}
	return context.WithValue(ctx, heldLocksKey{}, held)
}

// MemoryPartyStore keeps parties in process memory.
type MemoryPartyStore struct {
	mu      sync.RWMutex
	parties map[string]RemoteParty
}

func NewMemoryPartyStore() *MemoryPartyStore {
	return &MemoryPartyStore{parties: map[string]RemoteParty{}}
}

func (s *MemoryPartyStore) Load(context.Context) ([]RemoteParty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteParty, 0, len(s.parties))
	for _, party := range s.parties {
		out = append(out, party.Clone())
	}
	return out, nil
}

func (s *MemoryPartyStore) Save(_ context.Context, party RemoteParty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parties[party.ID.Key()] = party.Clone()
	return nil
}

func (s *MemoryPartyStore) Delete(_ context.Context, id PartyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parties, id.Key())
	return nil
}

// MemoryPartyLocker is a blocking per-key mutex. The ttl argument is accepted
// for interface compatibility with lease based lockers and is not enforced.
type MemoryPartyLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryPartyLocker() *MemoryPartyLocker {
	return &MemoryPartyLocker{slots: map[string]chan struct{}{}}
}

func (l *MemoryPartyLocker) Acquire(ctx context.Context, key string, _ time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: party locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}

	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return &memoryLockHandle{slot: slot}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryLockHandle struct {
	slot chan struct{}
	once sync.Once
}

func (h *memoryLockHandle) Unlock(context.Context) error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		<-h.slot
	})
	return nil
}
