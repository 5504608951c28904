package redact

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tutela/pkg/platform/sentinel"
)

// MemoryVault is the in-process Vault for tests and single-node deployments.
type MemoryVault struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]VaultEntry
	tokens  map[string]uuid.UUID
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		entries: make(map[uuid.UUID]VaultEntry),
		tokens:  make(map[string]uuid.UUID),
	}
}

func tokenKey(scope, token string) string {
	return scope + "\x00" + token
}

func (v *MemoryVault) Put(_ context.Context, entry VaultEntry) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.entries[entry.ID] = entry
	if entry.Token != "" {
		v.tokens[tokenKey(entry.Scope, entry.Token)] = entry.ID
	}
	return nil
}

func (v *MemoryVault) Get(_ context.Context, id uuid.UUID) (VaultEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.getLocked(id)
}

func (v *MemoryVault) getLocked(id uuid.UUID) (VaultEntry, error) {
	entry, ok := v.entries[id]
	if !ok {
		return VaultEntry{}, sentinel.ErrNotFound
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		return VaultEntry{}, sentinel.ErrExpired
	}
	return entry, nil
}

func (v *MemoryVault) GetByToken(_ context.Context, scope, token string) (VaultEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	id, ok := v.tokens[tokenKey(scope, token)]
	if !ok {
		return VaultEntry{}, sentinel.ErrNotFound
	}
	return v.getLocked(id)
}
