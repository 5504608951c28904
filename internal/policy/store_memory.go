package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tutela/pkg/platform/sentinel"
)

// MemoryStore keeps policies in process memory. It backs tests and
// single-node development; the relational store carries production.
type MemoryStore struct {
	mu          sync.RWMutex
	heads       map[uuid.UUID]Policy
	byName      map[string]uuid.UUID
	versions    map[uuid.UUID][]VersionRecord
	deployments map[uuid.UUID]map[string]Deployment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		heads:       make(map[uuid.UUID]Policy),
		byName:      make(map[string]uuid.UUID),
		versions:    make(map[uuid.UUID][]VersionRecord),
		deployments: make(map[uuid.UUID]map[string]Deployment),
	}
}

func (m *MemoryStore) Create(_ context.Context, p Policy, initial VersionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[p.Name]; exists {
		return fmt.Errorf("policy %q: %w", p.Name, sentinel.ErrConflict)
	}
	if _, exists := m.heads[p.ID]; exists {
		return fmt.Errorf("policy %s: %w", p.ID, sentinel.ErrConflict)
	}
	m.heads[p.ID] = clonePolicy(p)
	m.byName[p.Name] = p.ID
	m.versions[p.ID] = []VersionRecord{initial}
	return nil
}

func (m *MemoryStore) UpdateHead(_ context.Context, p Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.heads[p.ID]
	if !ok {
		return fmt.Errorf("policy %s: %w", p.ID, sentinel.ErrNotFound)
	}
	if current.Name != p.Name {
		delete(m.byName, current.Name)
		m.byName[p.Name] = p.ID
	}
	m.heads[p.ID] = clonePolicy(p)
	return nil
}

func (m *MemoryStore) AddVersion(_ context.Context, p Policy, v VersionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.heads[p.ID]; !ok {
		return fmt.Errorf("policy %s: %w", p.ID, sentinel.ErrNotFound)
	}
	for _, existing := range m.versions[p.ID] {
		if existing.Version == v.Version {
			return fmt.Errorf("policy %s version %s: %w", p.ID, v.Version, sentinel.ErrConflict)
		}
	}
	m.heads[p.ID] = clonePolicy(p)
	m.versions[p.ID] = append(m.versions[p.ID], v)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, ok := m.heads[id]
	if !ok {
		return fmt.Errorf("policy %s: %w", id, sentinel.ErrNotFound)
	}
	delete(m.heads, id)
	delete(m.byName, head.Name)
	delete(m.versions, id)
	delete(m.deployments, id)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	head, ok := m.heads[id]
	if !ok {
		return Policy{}, fmt.Errorf("policy %s: %w", id, sentinel.ErrNotFound)
	}
	return m.withDeployments(head), nil
}

func (m *MemoryStore) GetByName(_ context.Context, name string) (Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[name]
	if !ok {
		return Policy{}, fmt.Errorf("policy %q: %w", name, sentinel.ErrNotFound)
	}
	return m.withDeployments(m.heads[id]), nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter) ([]Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Policy
	for _, head := range m.heads {
		if !matchesFilter(head, filter) {
			continue
		}
		out = append(out, m.withDeployments(head))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Versions(_ context.Context, id uuid.UUID) ([]VersionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, ok := m.versions[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, sentinel.ErrNotFound)
	}
	out := append([]VersionRecord{}, history...)
	sort.Slice(out, func(i, j int) bool {
		return out[j].CreatedAt.Before(out[i].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) GetVersion(_ context.Context, id uuid.UUID, version string) (VersionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, v := range m.versions[id] {
		if v.Version == version {
			return v, nil
		}
	}
	return VersionRecord{}, fmt.Errorf("policy %s version %s: %w", id, version, sentinel.ErrNotFound)
}

func (m *MemoryStore) SetDeployment(_ context.Context, d Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.heads[d.PolicyID]; !ok {
		return fmt.Errorf("policy %s: %w", d.PolicyID, sentinel.ErrNotFound)
	}
	envs := m.deployments[d.PolicyID]
	if envs == nil {
		envs = make(map[string]Deployment)
		m.deployments[d.PolicyID] = envs
	}
	envs[d.Environment] = d
	return nil
}

func (m *MemoryStore) GetDeployment(_ context.Context, id uuid.UUID, environment string) (Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deployments[id][environment]
	if !ok {
		return Deployment{}, fmt.Errorf("policy %s in %s: %w", id, environment, sentinel.ErrNotFound)
	}
	return d, nil
}

func (m *MemoryStore) ListDeployments(_ context.Context, id uuid.UUID) ([]Deployment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	envs := m.deployments[id]
	out := make([]Deployment, 0, len(envs))
	for _, d := range envs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Environment < out[j].Environment })
	return out, nil
}

// withDeployments fills the read-side Deployments map. Callers hold the lock.
func (m *MemoryStore) withDeployments(head Policy) Policy {
	p := clonePolicy(head)
	if envs := m.deployments[head.ID]; len(envs) > 0 {
		p.Deployments = make(map[string]string, len(envs))
		for env, d := range envs {
			p.Deployments[env] = d.Version
		}
	}
	return p
}

func clonePolicy(p Policy) Policy {
	if p.Scopes != nil {
		p.Scopes = append([]string{}, p.Scopes...)
	}
	if p.DependsOn != nil {
		p.DependsOn = append([]uuid.UUID{}, p.DependsOn...)
	}
	if p.TestCases != nil {
		p.TestCases = append([]TestCase{}, p.TestCases...)
	}
	if p.Compliance.Frameworks != nil {
		p.Compliance.Frameworks = append([]string{}, p.Compliance.Frameworks...)
	}
	p.Deployments = nil
	return p
}

func matchesFilter(p Policy, f ListFilter) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Enforcement != "" && p.Enforcement != f.Enforcement {
		return false
	}
	if f.Scope != "" && !containsString(p.Scopes, f.Scope) {
		return false
	}
	if f.Framework != "" && !containsString(p.Compliance.Frameworks, f.Framework) {
		return false
	}
	return true
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
