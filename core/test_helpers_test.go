package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type memoryCredentialStore struct {
	mu      sync.Mutex
	records map[string]Credential
	gets    int
	puts    int
	deletes int
}

func newMemoryCredentialStore() *memoryCredentialStore {
	return &memoryCredentialStore{records: map[string]Credential{}}
}

func (s *memoryCredentialStore) Get(_ context.Context, service, user string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	cred, ok := s.records[CredentialKey(service, user)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred.Clone(), nil
}

func (s *memoryCredentialStore) Put(_ context.Context, credential Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if err := credential.Validate(); err != nil {
		return err
	}
	s.records[credential.Key()] = credential.Clone()
	return nil
}

func (s *memoryCredentialStore) Delete(_ context.Context, service, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	key := CredentialKey(service, user)
	if _, ok := s.records[key]; !ok {
		return ErrCredentialNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *memoryCredentialStore) seed(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[cred.Key()] = cred.Clone()
}

func (s *memoryCredentialStore) counts() (gets, puts, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts, s.deletes
}

type countingProvider struct {
	mu        sync.Mutex
	service   string
	kind      CredentialKind
	refreshes int
	result    func(cred Credential) (Credential, error)
	delay     time.Duration
}

func (p *countingProvider) Service() string {
	return p.service
}

func (p *countingProvider) Kind() CredentialKind {
	if strings.TrimSpace(string(p.kind)) == "" {
		return CredentialKindOAuth2
	}
	return p.kind
}

func (p *countingProvider) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	p.mu.Lock()
	p.refreshes++
	count := p.refreshes
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		}
	}
	if p.result != nil {
		return p.result(cred)
	}
	expiresAt := time.Now().UTC().Add(1 * time.Hour)
	refreshed := cred.Clone()
	refreshed.AccessToken = fmt.Sprintf("refreshed-token-%d", count)
	refreshed.ExpiresAt = &expiresAt
	return refreshed, nil
}

func (p *countingProvider) refreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func newTestRegistry(providers ...Provider) Registry {
	registry := NewProviderRegistry()
	for _, provider := range providers {
		if err := registry.Register(provider); err != nil {
			panic(err)
		}
	}
	return registry
}

func ptrTime(value time.Time) *time.Time {
	return &value
}
