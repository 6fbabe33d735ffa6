package graph

import (
	"sort"
	"sync"

	"github.com/kbukum/streamsight/errors"
)

// Store holds every built snapshot, keyed by topology id and reference.
// Old references stay available until superseded snapshots are dropped.
type Store struct {
	mu         sync.RWMutex
	topologies map[string]map[string]*Snapshot
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{topologies: make(map[string]map[string]*Snapshot)}
}

// Exists reports whether a snapshot for the (topology, reference) pair is
// stored.
func (s *Store) Exists(topologyID, ref string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.topologies[topologyID][ref]
	return ok
}

// Put stores a finished snapshot. A second snapshot for the same
// (topology, reference) pair is rejected so concurrent builders stay
// idempotent.
func (s *Store) Put(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs, ok := s.topologies[snap.Topology]
	if !ok {
		refs = make(map[string]*Snapshot)
		s.topologies[snap.Topology] = refs
	}
	if _, ok := refs[snap.Reference]; ok {
		return errors.AlreadyExists(snap.Topology, snap.Reference)
	}
	refs[snap.Reference] = snap
	return nil
}

// Get returns the snapshot for a (topology, reference) pair.
func (s *Store) Get(topologyID, ref string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.topologies[topologyID][ref]
	if !ok {
		return nil, errors.NotFound("graph snapshot", topologyID+"/"+ref)
	}
	return snap, nil
}

// MostRecent returns the snapshot with the latest creation time for a
// topology.
func (s *Store) MostRecent(topologyID string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Snapshot
	for _, snap := range s.topologies[topologyID] {
		if latest == nil || snap.CreatedAt.After(latest.CreatedAt) {
			latest = snap
		}
	}
	return latest, latest != nil
}

// References lists the stored references of a topology in creation order.
func (s *Store) References(topologyID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]string, 0, len(s.topologies[topologyID]))
	for ref := range s.topologies[topologyID] {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Topologies lists every topology with at least one snapshot, sorted.
func (s *Store) Topologies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topologies))
	for id := range s.topologies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
