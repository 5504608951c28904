package audit

import "context"

// Store persists chain entries. Append is the only write: there is no
// update or delete. Implementations enforce the append-if-previous-matches
// discipline and surface sentinel.ErrConflict when another writer advanced
// the chain between the caller reading the head and appending.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	// Head returns the latest entry of a chain, or sentinel.ErrNotFound
	// for a chain with no entries yet.
	Head(ctx context.Context, chainID string) (Entry, error)
	// Range returns entries with from <= sequence <= to in sequence order.
	// A negative to means "through the current head".
	Range(ctx context.Context, chainID string, from, to int64) ([]Entry, error)
	// Query filters entries; results are ordered by (chain, sequence).
	Query(ctx context.Context, criteria QueryCriteria) ([]Entry, error)
}
