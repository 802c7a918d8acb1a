package service

import (
	"sync"

	"github.com/google/uuid"
)

// workspaceLocks serializes submit/decide/expire per workspace. The stores
// additionally guard transitions with a pending-only predicate, but the lock
// makes the reservation + audit + registry sequence a single atomic unit per
// workspace; different workspaces proceed in parallel.
type workspaceLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newWorkspaceLocks() *workspaceLocks {
	return &workspaceLocks{locks: map[uuid.UUID]*sync.Mutex{}}
}

// Lock acquires the workspace's mutex and returns the unlock function.
func (w *workspaceLocks) Lock(workspaceID uuid.UUID) func() {
	w.mu.Lock()
	l, ok := w.locks[workspaceID]
	if !ok {
		l = &sync.Mutex{}
		w.locks[workspaceID] = l
	}
	w.mu.Unlock()

	l.Lock()
	return l.Unlock
}
