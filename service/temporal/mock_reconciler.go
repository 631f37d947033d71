package temporal

import (
	"context"
	"sync"
)

// MockReconciler is a test implementation of Reconciler.
type MockReconciler struct {
	mu      sync.Mutex
	started []ReconcileTransferInput
	err     error
}

// NewMockReconciler creates a new mock reconciler.
func NewMockReconciler() *MockReconciler {
	return &MockReconciler{}
}

// StartReconcile records the input.
func (m *MockReconciler) StartReconcile(ctx context.Context, input ReconcileTransferInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.started = append(m.started, input)
	return nil
}

// SetError makes subsequent StartReconcile calls fail.
func (m *MockReconciler) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Started returns the inputs passed to StartReconcile.
func (m *MockReconciler) Started() []ReconcileTransferInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReconcileTransferInput, len(m.started))
	copy(out, m.started)
	return out
}
