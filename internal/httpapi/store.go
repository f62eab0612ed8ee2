// Package httpapi implements the HTTP + WebSocket server (spec §4.6): a
// registry of per-store event logs and projections, REST endpoints to
// submit and list events, and a push upgrade endpoint wired to the
// broadcaster.
package httpapi

import (
	"sync"

	"go-eventbook/internal/notebook"
	"go-eventbook/pkg/eventlog"
)

// store bundles one aggregate's event log and projection behind a single
// mutex, so that "read latest version → build → append → project →
// broadcast" runs as one critical section per spec §4.6 and §5.
type store struct {
	mu   sync.Mutex
	id   string
	log  eventlog.EventStore
	proj *notebook.ProjectionManager
}

// Registry lazily creates a store on first reference to an unknown id
// (spec §4.6) and hands out the matching store for subsequent requests.
type Registry struct {
	mu      sync.RWMutex
	stores  map[string]*store
	newLog  func() eventlog.EventStore
}

// NewRegistry returns an empty registry. newLog constructs the underlying
// event store for each newly created aggregate; tests can inject an
// in-memory store, production wiring can inject one backed by a Postgres
// mirror.
func NewRegistry(newLog func() eventlog.EventStore) *Registry {
	if newLog == nil {
		newLog = func() eventlog.EventStore { return eventlog.NewInMemoryEventStore() }
	}
	return &Registry{stores: make(map[string]*store), newLog: newLog}
}

// getOrCreate returns the store for id, creating it if this is the first
// reference.
func (r *Registry) getOrCreate(id string) *store {
	r.mu.RLock()
	s, ok := r.stores[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[id]; ok {
		return s
	}
	s = &store{id: id, log: r.newLog(), proj: notebook.NewProjectionManager()}
	r.stores[id] = s
	return s
}

// Preload rehydrates id's store from events, which must already be in
// strict version order. It is meant to run once at startup, before the
// server accepts traffic, to replay a durability mirror's rows back into a
// fresh in-memory log and rebuild the matching projection (SPEC_FULL.md
// §3.1).
func (r *Registry) Preload(id string, events []eventlog.Event) error {
	st := r.getOrCreate(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, event := range events {
		if err := st.log.Append(event); err != nil {
			return err
		}
	}
	return st.proj.RebuildFrom(events)
}

// get returns the store for id without creating it.
func (r *Registry) get(id string) (*store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[id]
	return s, ok
}

// ids returns every known store id.
func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	return ids
}
