// Package session serializes traversal steps per session key. Each key has
// an exclusive lease; steps on the same graph queue behind each other while
// independent graphs run in parallel.
package session

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Manager hands out per-key leases.
type Manager struct {
	mu     sync.Mutex
	leases map[string]chan struct{}
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{leases: make(map[string]chan struct{})}
}

// Acquire takes the exclusive lease for key, waiting while another holder
// finishes. The context deadline bounds the wait only: once acquired, the
// lease is held until the returned release func runs, never revoked
// mid-step.
func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.New(apperrors.CodeSessionKeyEmpty, "session key is required")
	}
	for {
		m.mu.Lock()
		waiting, held := m.leases[key]
		if !held {
			lease := make(chan struct{})
			m.leases[key] = lease
			m.mu.Unlock()
			return func() { m.release(key, lease) }, nil
		}
		m.mu.Unlock()

		select {
		case <-waiting:
			// Holder released; race for the lease again.
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.CodeLeaseHeld, "session lease wait expired", ctx.Err())
		}
	}
}

// TryAcquire takes the lease only if it is free.
func (m *Manager) TryAcquire(key string) (func(), bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.leases[key]; held {
		return nil, false
	}
	lease := make(chan struct{})
	m.leases[key] = lease
	return func() { m.release(key, lease) }, true
}

// release is identity-checked so a stale double release cannot evict a
// newer holder's lease.
func (m *Manager) release(key string, lease chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, held := m.leases[key]
	if !held || current != lease {
		return
	}
	delete(m.leases, key)
	close(lease)
}
