package settings

import (
	"context"
	"sync"
)

// Store persists sparse preference overrides. Get methods return (nil, nil)
// when no override exists for the scope. Implementations must be safe for
// concurrent use.
type Store interface {
	GetGuild(ctx context.Context, guildID string) (*Override, error)
	SetGuild(ctx context.Context, guildID string, o *Override) error
	GetUser(ctx context.Context, guildID, userID string) (*Override, error)
	SetUser(ctx context.Context, guildID, userID string, o *Override) error
	DeleteUser(ctx context.Context, guildID, userID string) error
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store] for tests and deployments without a
// database. Overrides do not survive a restart.
type MemStore struct {
	mu     sync.RWMutex
	guilds map[string]*Override
	users  map[string]*Override // keyed by guildID + "/" + userID
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		guilds: make(map[string]*Override),
		users:  make(map[string]*Override),
	}
}

func userKey(guildID, userID string) string {
	return guildID + "/" + userID
}

// GetGuild implements [Store].
func (s *MemStore) GetGuild(_ context.Context, guildID string) (*Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneOverride(s.guilds[guildID]), nil
}

// SetGuild implements [Store].
func (s *MemStore) SetGuild(_ context.Context, guildID string, o *Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guilds[guildID] = cloneOverride(o)
	return nil
}

// GetUser implements [Store].
func (s *MemStore) GetUser(_ context.Context, guildID, userID string) (*Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneOverride(s.users[userKey(guildID, userID)]), nil
}

// SetUser implements [Store].
func (s *MemStore) SetUser(_ context.Context, guildID, userID string, o *Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userKey(guildID, userID)] = cloneOverride(o)
	return nil
}

// DeleteUser implements [Store]. Deleting an absent override is not an error.
func (s *MemStore) DeleteUser(_ context.Context, guildID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userKey(guildID, userID))
	return nil
}

// cloneOverride copies o so callers cannot alias the stored record.
func cloneOverride(o *Override) *Override {
	if o == nil {
		return nil
	}
	clone := &Override{}
	if o.Voice != nil {
		v := *o.Voice
		clone.Voice = &v
	}
	if o.Speed != nil {
		v := *o.Speed
		clone.Speed = &v
	}
	if o.Language != nil {
		v := *o.Language
		clone.Language = &v
	}
	if o.AutoDelete != nil {
		v := *o.AutoDelete
		clone.AutoDelete = &v
	}
	return clone
}
