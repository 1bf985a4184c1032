package rules

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one published generation of the store. It is never mutated
// once stored.
type Snapshot struct {
	sets      map[string]*RuleSet
	UpdatedAt time.Time
}

// Lookup returns the RuleSet for client.
func (s *Snapshot) Lookup(client string) (*RuleSet, bool) {
	rs, ok := s.sets[client]
	return rs, ok
}

// Clients returns the client keys in sorted order.
func (s *Snapshot) Clients() []string {
	keys := make([]string, 0, len(s.sets))
	for k := range s.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of clients with a RuleSet.
func (s *Snapshot) Len() int { return len(s.sets) }

// Store maps client keys to RuleSets. Reads are lock-free loads of the
// current snapshot; writers build a new snapshot and swap it in whole.
type Store struct {
	current atomic.Pointer[Snapshot]

	// serialises writers only
	mu sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Snapshot{sets: map[string]*RuleSet{}, UpdatedAt: time.Now()})
	return s
}

// Lookup returns the RuleSet currently published for client.
func (s *Store) Lookup(client string) (*RuleSet, bool) {
	return s.current.Load().Lookup(client)
}

// Snapshot returns the current generation.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// ReplaceAll installs sets as the new contents of the store. The map is
// copied; later changes to it by the caller are not observed.
func (s *Store) ReplaceAll(sets map[string]*RuleSet) {
	next := make(map[string]*RuleSet, len(sets))
	for k, v := range sets {
		if v == nil {
			v = NewRuleSet()
		}
		next[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(&Snapshot{sets: next, UpdatedAt: time.Now()})
}

// ReplaceFor swaps the RuleSet of a single client, leaving every other
// client's RuleSet untouched. A nil set installs an empty one.
func (s *Store) ReplaceFor(client string, set *RuleSet) {
	if set == nil {
		set = NewRuleSet()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := make(map[string]*RuleSet, len(prev.sets)+1)
	for k, v := range prev.sets {
		next[k] = v
	}
	next[client] = set
	s.current.Store(&Snapshot{sets: next, UpdatedAt: time.Now()})
}
