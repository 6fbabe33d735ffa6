package cache

import (
	"sync"
	"time"
)

// Store is a concurrency-safe map with in-flight deduplication: concurrent
// GetOrCompute calls for the same missing key run the compute function once
// and share its result.
type Store[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
	pending map[K]*inflight[V]
}

type inflight[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// NewStore creates an empty store.
func NewStore[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		entries: make(map[K]V),
		pending: make(map[K]*inflight[V]),
	}
}

// Get returns the cached value for key.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Put stores a value, replacing any previous entry.
func (s *Store[K, V]) Put(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

// Len returns the number of cached entries.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// GetOrCompute returns the cached value for key, computing and caching it on
// a miss. A failed compute is not cached, so the next call retries.
func (s *Store[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	s.mu.Lock()
	if v, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return v, nil
	}
	if fl, ok := s.pending[key]; ok {
		s.mu.Unlock()
		<-fl.done
		return fl.val, fl.err
	}
	fl := &inflight[V]{done: make(chan struct{})}
	s.pending[key] = fl
	s.mu.Unlock()

	fl.val, fl.err = compute()

	s.mu.Lock()
	if fl.err == nil {
		s.entries[key] = fl.val
	}
	delete(s.pending, key)
	s.mu.Unlock()
	close(fl.done)

	return fl.val, fl.err
}

// DeleteFunc removes every entry whose key matches and returns how many
// were removed.
func (s *Store[K, V]) DeleteFunc(match func(K) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.entries {
		if match(k) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// RefKey identifies a value derived from one graph snapshot.
type RefKey struct {
	Topology  string
	Reference string
}

// RefStore caches values derived from graph snapshots. Entries never
// expire; InvalidateTopology drops all references of a topology once a new
// snapshot supersedes them.
type RefStore[V any] struct {
	store *Store[RefKey, V]
}

// NewRefStore creates an empty reference-keyed cache.
func NewRefStore[V any]() *RefStore[V] {
	return &RefStore[V]{store: NewStore[RefKey, V]()}
}

// Get returns the cached value for a (topology, reference) pair.
func (c *RefStore[V]) Get(topology, reference string) (V, bool) {
	return c.store.Get(RefKey{Topology: topology, Reference: reference})
}

// GetOrCompute returns the cached value, computing it once on a miss.
func (c *RefStore[V]) GetOrCompute(topology, reference string, compute func() (V, error)) (V, error) {
	return c.store.GetOrCompute(RefKey{Topology: topology, Reference: reference}, compute)
}

// InvalidateTopology removes every cached reference of the topology.
func (c *RefStore[V]) InvalidateTopology(topology string) int {
	return c.store.DeleteFunc(func(k RefKey) bool { return k.Topology == topology })
}

// Len returns the number of cached entries.
func (c *RefStore[V]) Len() int { return c.store.Len() }

// WindowKey identifies a value derived from one telemetry window. Start and
// End are unix seconds; sharing across even slightly different windows is
// not allowed.
type WindowKey struct {
	Backend  string
	Name     string
	Topology string
	Cluster  string
	Environ  string
	Start    int64
	End      int64
}

// NewWindowKey builds a key from window bounds.
func NewWindowKey(backend, name, topology, cluster, environ string, start, end time.Time) WindowKey {
	return WindowKey{
		Backend:  backend,
		Name:     name,
		Topology: topology,
		Cluster:  cluster,
		Environ:  environ,
		Start:    start.Unix(),
		End:      end.Unix(),
	}
}

// WindowStore caches values derived from one telemetry window.
type WindowStore[V any] struct {
	store *Store[WindowKey, V]
}

// NewWindowStore creates an empty window-keyed cache.
func NewWindowStore[V any]() *WindowStore[V] {
	return &WindowStore[V]{store: NewStore[WindowKey, V]()}
}

// Get returns the cached value for the window key.
func (c *WindowStore[V]) Get(key WindowKey) (V, bool) {
	return c.store.Get(key)
}

// GetOrCompute returns the cached value, computing it once on a miss.
func (c *WindowStore[V]) GetOrCompute(key WindowKey, compute func() (V, error)) (V, error) {
	return c.store.GetOrCompute(key, compute)
}

// Len returns the number of cached entries.
func (c *WindowStore[V]) Len() int { return c.store.Len() }
