package pipeline

import "sync"

// InFlight guarantees at most one running check per target across the
// scheduler and manual checks.
type InFlight struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

func NewInFlight() *InFlight {
	return &InFlight{active: make(map[int64]struct{})}
}

// Acquire reports false when id is already held.
func (l *InFlight) Acquire(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[id]; busy {
		return false
	}
	l.active[id] = struct{}{}
	return true
}

func (l *InFlight) Release(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, id)
}

func (l *InFlight) Held(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.active[id]
	return busy
}
