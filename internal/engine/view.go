package engine

import (
	"sync"

	"stagehand/internal/domain"
)

// ViewEvent is emitted to subscribers whenever the local view changes.
type ViewEvent struct {
	Generation domain.Generation
}

// View is the engine's authoritative local copy of generation records.
// The reconciler is the only writer once a generation is dispatched;
// everyone else reads snapshots or subscribes. Subscribers that fall
// behind lose events rather than block the reconciler.
type View struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]domain.Generation
	subs  map[int]chan ViewEvent
	next  int
}

// NewView creates an empty view.
func NewView() *View {
	return &View{
		byID: make(map[string]domain.Generation),
		subs: make(map[int]chan ViewEvent),
	}
}

// Upsert inserts or replaces a record and notifies subscribers. New
// records are prepended: newest first, as the user sees them.
func (v *View) Upsert(gen domain.Generation) {
	v.mu.Lock()
	if _, ok := v.byID[gen.ID]; !ok {
		v.order = append([]string{gen.ID}, v.order...)
	}
	v.byID[gen.ID] = gen
	subs := make([]chan ViewEvent, 0, len(v.subs))
	for _, ch := range v.subs {
		subs = append(subs, ch)
	}
	v.mu.Unlock()

	ev := ViewEvent{Generation: gen}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Get returns a copy of the record, if known.
func (v *View) Get(id string) (domain.Generation, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	gen, ok := v.byID[id]
	return gen, ok
}

// Snapshot returns all records, newest first.
func (v *View) Snapshot() []domain.Generation {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Generation, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.byID[id])
	}
	return out
}

// SnapshotUser returns one user's records, newest first.
func (v *View) SnapshotUser(userID string) []domain.Generation {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []domain.Generation
	for _, id := range v.order {
		if gen := v.byID[id]; gen.UserID == userID {
			out = append(out, gen)
		}
	}
	return out
}

// Subscribe registers for change events. The returned cancel func must
// be called when done.
func (v *View) Subscribe() (<-chan ViewEvent, func()) {
	ch := make(chan ViewEvent, 64)
	v.mu.Lock()
	id := v.next
	v.next++
	v.subs[id] = ch
	v.mu.Unlock()

	cancel := func() {
		v.mu.Lock()
		if _, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(ch)
		}
		v.mu.Unlock()
	}
	return ch, cancel
}
