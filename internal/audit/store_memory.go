package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tutela/pkg/platform/sentinel"
)

// MemoryStore keeps chains in process memory. It backs tests and
// single-node development; the relational store carries production.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]Entry)}
}

func (m *MemoryStore) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.chains[entry.ChainID]
	if len(chain) == 0 {
		if entry.Sequence != 0 || entry.PrevHash != GenesisHash {
			return fmt.Errorf("append to empty chain %q: %w", entry.ChainID, sentinel.ErrConflict)
		}
	} else {
		head := chain[len(chain)-1]
		if entry.Sequence != head.Sequence+1 || entry.PrevHash != head.ContentHash {
			return fmt.Errorf("append to chain %q at %d: %w", entry.ChainID, entry.Sequence, sentinel.ErrConflict)
		}
	}
	m.chains[entry.ChainID] = append(chain, entry)
	return nil
}

func (m *MemoryStore) Head(_ context.Context, chainID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[chainID]
	if len(chain) == 0 {
		return Entry{}, fmt.Errorf("chain %q: %w", chainID, sentinel.ErrNotFound)
	}
	return chain[len(chain)-1], nil
}

func (m *MemoryStore) Range(_ context.Context, chainID string, from, to int64) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[chainID]
	var out []Entry
	for _, e := range chain {
		if e.Sequence < from {
			continue
		}
		if to >= 0 && e.Sequence > to {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) Query(_ context.Context, criteria QueryCriteria) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chainIDs := make([]string, 0, len(m.chains))
	for id := range m.chains {
		if criteria.ChainID != "" && id != criteria.ChainID {
			continue
		}
		chainIDs = append(chainIDs, id)
	}
	sort.Strings(chainIDs)

	var out []Entry
	for _, id := range chainIDs {
		for _, e := range m.chains[id] {
			if !matchesCriteria(e, criteria) {
				continue
			}
			out = append(out, e)
			if criteria.Limit > 0 && len(out) >= criteria.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// tamper overwrites a stored entry in place, bypassing the append-only
// contract. Tests use it to simulate out-of-band mutation of the backing
// store.
func (m *MemoryStore) tamper(chainID string, sequence int64, mutate func(*Entry)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.chains[chainID]
	for i := range chain {
		if chain[i].Sequence == sequence {
			mutate(&chain[i])
			return true
		}
	}
	return false
}

func matchesCriteria(e Entry, c QueryCriteria) bool {
	if c.SubjectID != "" && e.SubjectID != c.SubjectID {
		return false
	}
	if c.Actor != "" && e.Actor != c.Actor {
		return false
	}
	if c.Category != "" && e.Category != c.Category {
		return false
	}
	if len(c.EventTypes) > 0 {
		found := false
		for _, t := range c.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !c.From.IsZero() && e.Timestamp.Before(c.From) {
		return false
	}
	if !c.To.IsZero() && e.Timestamp.After(c.To) {
		return false
	}
	if c.CulturallySensitive != nil && e.CulturallySensitive != *c.CulturallySensitive {
		return false
	}
	if c.Framework != "" {
		found := false
		for _, f := range e.Frameworks {
			if f == c.Framework {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
