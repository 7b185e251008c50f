package engine

import (
	"sync"

	"example.com/runtheworld/internal/domain"
)

// leaseSet hands out at most one sync lease per athlete. It guards against
// the same athlete being triggered twice concurrently within one process.
type leaseSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLeaseSet() *leaseSet {
	return &leaseSet{held: make(map[string]struct{})}
}

// acquire takes the athlete's lease or reports ErrSyncInProgress.
func (l *leaseSet) acquire(athleteID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[athleteID]; taken {
		return domain.ErrSyncInProgress
	}
	l.held[athleteID] = struct{}{}
	return nil
}

// release frees the athlete's lease.
func (l *leaseSet) release(athleteID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, athleteID)
}
