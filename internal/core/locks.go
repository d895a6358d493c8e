package core

import "sync"

// projectLocks hands out one mutex per project.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the project's mutex and returns its release function.
func (l *projectLocks) lock(projectID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[projectID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[projectID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
