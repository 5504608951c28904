package policy

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status      Status
	Enforcement Enforcement
	Scope       string
	Framework   string
}

// Store persists policy heads, their append-only version history, and the
// per-environment deployment pointers. Version rows are never updated or
// deleted except by Delete, which removes the whole policy.
type Store interface {
	// Create persists a new head together with its initial version record.
	// A duplicate name surfaces sentinel.ErrConflict.
	Create(ctx context.Context, p Policy, initial VersionRecord) error
	// UpdateHead replaces head fields without touching version history.
	// Lifecycle transitions use this.
	UpdateHead(ctx context.Context, p Policy) error
	// AddVersion replaces the head and appends a version record atomically.
	AddVersion(ctx context.Context, p Policy, v VersionRecord) error
	Delete(ctx context.Context, id uuid.UUID) error

	Get(ctx context.Context, id uuid.UUID) (Policy, error)
	GetByName(ctx context.Context, name string) (Policy, error)
	List(ctx context.Context, filter ListFilter) ([]Policy, error)

	// Versions returns the full history, newest first.
	Versions(ctx context.Context, id uuid.UUID) ([]VersionRecord, error)
	GetVersion(ctx context.Context, id uuid.UUID, version string) (VersionRecord, error)

	SetDeployment(ctx context.Context, d Deployment) error
	GetDeployment(ctx context.Context, id uuid.UUID, environment string) (Deployment, error)
	ListDeployments(ctx context.Context, id uuid.UUID) ([]Deployment, error)
}
