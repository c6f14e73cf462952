package engine

import "sync"

// DeletedGuard is the process-wide "recently deleted" set: habit ids with a
// deletion in flight. The pull merge and habit creation consult it so a
// stale remote copy can never resurrect a habit mid-cleanup.
//
// Discipline is always mark -> do remote/local work -> clear. The lock
// protects only set/check/clear and is never held across I/O.
//
// Constructor-injected into the engine rather than global so tests can
// reset it between cases.
type DeletedGuard struct {
	mu  sync.Mutex
	ids map[string]bool
}

// NewDeletedGuard creates an empty guard.
func NewDeletedGuard() *DeletedGuard {
	return &DeletedGuard{ids: make(map[string]bool)}
}

// Mark records that habitID has a deletion in flight.
func (g *DeletedGuard) Mark(habitID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids[habitID] = true
}

// Clear removes the mark. Called only after the remote side has been
// confirmed deleted or the local side has been confirmed deleted.
func (g *DeletedGuard) Clear(habitID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, habitID)
}

// Contains reports whether habitID has a deletion in flight.
func (g *DeletedGuard) Contains(habitID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ids[habitID]
}
