package memorystore

import (
	"context"
	"sort"
	"sync"

	"github.com/goliatone/go-connectors/core"
)

// Store keeps credentials in process memory. It is the default development
// backend and the reference for the store contract; production deployments
// use the file or SQL stores.
type Store struct {
	mu    sync.RWMutex
	items map[string]core.Credential
}

func New() *Store {
	return &Store{items: map[string]core.Credential{}}
}

func (s *Store) Get(_ context.Context, service, user string) (core.Credential, error) {
	if s == nil {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	key := core.CredentialKey(service, user)
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.items[key]
	if !ok {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	return credential.Clone(), nil
}

func (s *Store) Put(_ context.Context, credential core.Credential) error {
	if s == nil {
		return core.ErrCredentialNotFound
	}
	if err := credential.Validate(); err != nil {
		return err
	}
	key := credential.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = credential.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, service, user string) error {
	if s == nil {
		return core.ErrCredentialNotFound
	}
	key := core.CredentialKey(service, user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return core.ErrCredentialNotFound
	}
	delete(s.items, key)
	return nil
}

// List returns the stored credentials for diagnostics, sorted by key.
func (s *Store) List(_ context.Context) ([]core.Credential, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]core.Credential, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.items[key].Clone())
	}
	return out, nil
}

var _ core.CredentialStore = (*Store)(nil)
