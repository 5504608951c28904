package attest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tutela/pkg/platform/sentinel"
)

// MemoryStore keeps attestation versions in process memory. It backs tests
// and single-node development; the relational store carries production.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[uuid.UUID]map[int]Attestation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[uuid.UUID]map[int]Attestation)}
}

func (m *MemoryStore) Insert(_ context.Context, a Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byVersion := m.versions[a.ID]
	if byVersion == nil {
		byVersion = make(map[int]Attestation)
		m.versions[a.ID] = byVersion
	}
	if _, exists := byVersion[a.Version]; exists {
		return fmt.Errorf("attestation %s version %d: %w", a.ID, a.Version, sentinel.ErrConflict)
	}
	byVersion[a.Version] = cloneAttestation(a)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (Attestation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestLocked(id)
}

func (m *MemoryStore) GetVersion(_ context.Context, id uuid.UUID, version int) (Attestation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.versions[id][version]
	if !ok {
		return Attestation{}, fmt.Errorf("attestation %s version %d: %w", id, version, sentinel.ErrNotFound)
	}
	return cloneAttestation(a), nil
}

func (m *MemoryStore) Versions(_ context.Context, id uuid.UUID) ([]Attestation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byVersion, ok := m.versions[id]
	if !ok {
		return nil, fmt.Errorf("attestation %s: %w", id, sentinel.ErrNotFound)
	}
	out := make([]Attestation, 0, len(byVersion))
	for _, a := range byVersion {
		out = append(out, cloneAttestation(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (m *MemoryStore) ListBySubject(_ context.Context, subjectID string) ([]Attestation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Attestation
	for id := range m.versions {
		a, err := m.latestLocked(id)
		if err != nil {
			continue
		}
		if a.SubjectID == subjectID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (m *MemoryStore) ListLinking(_ context.Context, id uuid.UUID) ([]Attestation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Attestation
	for candidate := range m.versions {
		a, err := m.latestLocked(candidate)
		if err != nil {
			continue
		}
		for _, link := range a.Links {
			if link == id {
				out = append(out, a)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id uuid.UUID, version int, status Status, rev *RevocationInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.versions[id][version]
	if !ok {
		return fmt.Errorf("attestation %s version %d: %w", id, version, sentinel.ErrNotFound)
	}
	a.Status = status
	a.Revocation = cloneRevocation(rev)
	m.versions[id][version] = a
	return nil
}

// latestLocked returns the highest version. Callers hold the lock.
func (m *MemoryStore) latestLocked(id uuid.UUID) (Attestation, error) {
	byVersion, ok := m.versions[id]
	if !ok || len(byVersion) == 0 {
		return Attestation{}, fmt.Errorf("attestation %s: %w", id, sentinel.ErrNotFound)
	}
	best := -1
	for v := range byVersion {
		if v > best {
			best = v
		}
	}
	return cloneAttestation(byVersion[best]), nil
}

func cloneAttestation(a Attestation) Attestation {
	if a.Claims != nil {
		claims := make(map[string]any, len(a.Claims))
		for k, v := range a.Claims {
			claims[k] = v
		}
		a.Claims = claims
	}
	if a.Frameworks != nil {
		a.Frameworks = append([]string{}, a.Frameworks...)
	}
	if a.Protocols != nil {
		a.Protocols = append([]CulturalProtocol{}, a.Protocols...)
	}
	if a.Links != nil {
		a.Links = append([]uuid.UUID{}, a.Links...)
	}
	a.Revocation = cloneRevocation(a.Revocation)
	return a
}

func cloneRevocation(rev *RevocationInfo) *RevocationInfo {
	if rev == nil {
		return nil
	}
	cp := *rev
	return &cp
}

// MemoryKeyStore keeps key pairs in process memory.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]Key
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]Key)}
}

func (m *MemoryKeyStore) Insert(_ context.Context, k Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[k.ID]; exists {
		return fmt.Errorf("key %s: %w", k.ID, sentinel.ErrConflict)
	}
	m.keys[k.ID] = cloneKey(k)
	return nil
}

func (m *MemoryKeyStore) Get(_ context.Context, id string) (Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.keys[id]
	if !ok {
		return Key{}, fmt.Errorf("key %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneKey(k), nil
}

func (m *MemoryKeyStore) Update(_ context.Context, k Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[k.ID]; !ok {
		return fmt.Errorf("key %s: %w", k.ID, sentinel.ErrNotFound)
	}
	m.keys[k.ID] = cloneKey(k)
	return nil
}

func (m *MemoryKeyStore) List(_ context.Context, owner string) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Key
	for _, k := range m.keys {
		if owner != "" && k.Owner != owner {
			continue
		}
		out = append(out, cloneKey(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneKey(k Key) Key {
	if k.Public != nil {
		k.Public = append([]byte{}, k.Public...)
	}
	if k.Private != nil {
		k.Private = append([]byte{}, k.Private...)
	}
	if k.RotatedAt != nil {
		t := *k.RotatedAt
		k.RotatedAt = &t
	}
	return k
}
