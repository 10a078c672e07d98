package docstore

import (
	"context"
	"sync"
)

// lockSlot is a channel-based mutex plus the number of holders and waiters
// referencing it
type lockSlot struct {
	ch   chan struct{}
	refs int
}

// LockManager serializes work per document id. Locks are channel-based so an
// acquire blocked behind a stuck model call can be abandoned via context
// cancellation without leaving the slot held. Slots are dropped once the
// last holder or waiter lets go, so the map stays bounded by the number of
// documents currently in flight.
type LockManager struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

// NewLockManager creates an empty lock manager
func NewLockManager() *LockManager {
	return &LockManager{slots: make(map[string]*lockSlot)}
}

// Acquire takes the lock for the document, blocking until it is free or the
// context is cancelled. On success the returned release function must be
// called exactly once.
func (m *LockManager) Acquire(ctx context.Context, documentID string) (func(), error) {
	m.mu.Lock()
	slot, ok := m.slots[documentID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		m.slots[documentID] = slot
	}
	slot.refs++
	m.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			m.put(documentID)
		}, nil
	case <-ctx.Done():
		m.put(documentID)
		return nil, ctx.Err()
	}
}

// put drops one reference and removes the slot once nobody holds or waits
// on it
func (m *LockManager) put(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.slots[documentID]
	slot.refs--
	if slot.refs == 0 {
		delete(m.slots, documentID)
	}
}
