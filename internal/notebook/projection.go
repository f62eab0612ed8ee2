package notebook

import (
	"sync"

	"go-eventbook/pkg/eventlog"
)

// ProjectionManager drives a Materializer over an event stream, keeping the
// current State in memory and supporting both a full rebuild and incremental
// application of newly-appended events (spec §4.5).
type ProjectionManager struct {
	mu              sync.RWMutex
	materializer    Materializer
	state           State
	lastVersionSeen map[string]int64 // per-aggregate high-water mark, for ApplyNew's gate
}

// NewProjectionManager returns a manager holding an empty, freshly
// initialized state.
func NewProjectionManager() *ProjectionManager {
	m := Materializer{}
	return &ProjectionManager{
		materializer:    m,
		state:           m.InitialState(),
		lastVersionSeen: make(map[string]int64),
	}
}

// RebuildFrom discards the current state and replays events from scratch, in
// the order given. Events of kinds the materializer doesn't handle are
// skipped. If any handled event fails to apply, the rebuild aborts and the
// manager's prior state is left untouched.
func (p *ProjectionManager) RebuildFrom(events []eventlog.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.materializer.InitialState()
	versions := make(map[string]int64)

	for _, event := range events {
		if !p.materializer.Handles(event.Kind) {
			continue
		}
		next, err := p.materializer.Apply(state, event)
		if err != nil {
			return err
		}
		state = next
		versions[event.AggregateID] = event.Version
	}

	p.state = state
	p.lastVersionSeen = versions
	return nil
}

// ApplyNew folds events into the current state incrementally. Events are
// gated per aggregate by Version, not by timestamp: an event whose Version is
// not strictly greater than the last one applied for its aggregate is
// treated as already-applied and skipped, rather than re-applied or erroring.
// Events that share a timestamp are therefore never dropped, and ApplyNew is
// safe to call with events that overlap a previous call.
func (p *ProjectionManager) ApplyNew(events []eventlog.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, event := range events {
		if !p.materializer.Handles(event.Kind) {
			continue
		}

		last, seen := p.lastVersionSeen[event.AggregateID]
		if seen && !versionTupleGreater(event, last) {
			continue
		}

		next, err := p.materializer.Apply(p.state, event)
		if err != nil {
			return err
		}
		p.state = next
		p.lastVersionSeen[event.AggregateID] = event.Version
	}

	return nil
}

// versionTupleGreater reports whether event's version is newer than
// lastVersion, the prior version recorded for the same aggregate. Versions
// are strictly increasing per aggregate (eventlog.EventStore enforces this),
// so the version alone orders an aggregate's events; timestamps are not
// consulted.
func versionTupleGreater(event eventlog.Event, lastVersion int64) bool {
	return event.Version > lastVersion
}

// State returns a snapshot of the current projection. The returned State has
// its own top-level maps, so later applies do not change it; values inside
// the entities (metadata and settings maps, pointer fields) are shared with
// the manager's state, not deep-copied.
func (p *ProjectionManager) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.clone()
}

// LastProcessedTimestamp returns the timestamp of the most recently applied
// event, or zero if none has been applied yet.
func (p *ProjectionManager) LastProcessedTimestamp() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.LastProcessedTimestamp
}
