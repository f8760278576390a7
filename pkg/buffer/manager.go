package buffer

import (
	"fmt"
	"sync"
)

// Manager holds the primary and secondary buffers of one session. All
// accessors return copies; callers never share maps with the manager.
type Manager struct {
	mu        sync.RWMutex
	primary   Values
	secondary Values
}

// NewManager returns a manager with two empty buffers.
func NewManager() *Manager {
	return &Manager{
		primary:   make(Values),
		secondary: make(Values),
	}
}

// OnPrimaryChange replaces the primary buffer with a snapshot of v.
func (m *Manager) OnPrimaryChange(v Values) error {
	snapshot, err := Normalize(v)
	if err != nil {
		return fmt.Errorf("primary buffer: %w", err)
	}
	m.mu.Lock()
	m.primary = snapshot
	m.mu.Unlock()
	return nil
}

// OnSecondaryChange replaces the secondary buffer with a snapshot of v.
func (m *Manager) OnSecondaryChange(v Values) error {
	snapshot, err := Normalize(v)
	if err != nil {
		return fmt.Errorf("secondary buffer: %w", err)
	}
	m.mu.Lock()
	m.secondary = snapshot
	m.mu.Unlock()
	return nil
}

// SetPrimaryValue writes a single dotted path into the primary buffer and
// returns the resulting snapshot.
func (m *Manager) SetPrimaryValue(path string, value any) (Values, error) {
	return m.setValue(&m.primary, "primary", path, value)
}

// SetSecondaryValue writes a single dotted path into the secondary buffer.
func (m *Manager) SetSecondaryValue(path string, value any) (Values, error) {
	return m.setValue(&m.secondary, "secondary", path, value)
}

func (m *Manager) setValue(target *Values, name, path string, value any) (Values, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := Clone(*target)
	if err := Assign(next, path, value); err != nil {
		return nil, fmt.Errorf("%s buffer: %w", name, err)
	}
	snapshot, err := Normalize(next)
	if err != nil {
		return nil, fmt.Errorf("%s buffer: %w", name, err)
	}
	*target = snapshot
	return Clone(snapshot), nil
}

// Reset clears both buffers.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.primary = make(Values)
	m.secondary = make(Values)
	m.mu.Unlock()
}

// ResetSecondary clears the secondary buffer only. It runs whenever a
// secondary schema is freshly installed.
func (m *Manager) ResetSecondary() {
	m.mu.Lock()
	m.secondary = make(Values)
	m.mu.Unlock()
}

// Primary returns a copy of the primary buffer.
func (m *Manager) Primary() Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Clone(m.primary)
}

// Secondary returns a copy of the secondary buffer.
func (m *Manager) Secondary() Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Clone(m.secondary)
}

// PrimaryValue resolves a dotted path inside the primary buffer.
func (m *Manager) PrimaryValue(path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := Lookup(m.primary, path)
	if !ok {
		return nil, false
	}
	return deepCopy(value), true
}

// Merge builds the submission document. With includeSecondary and a
// non-empty secondary buffer, secondary keys override primary keys;
// otherwise the result equals the primary buffer.
func (m *Manager) Merge(includeSecondary bool) Values {
	m.mu.RLock()
	defer m.mu.RUnlock()

	merged := Clone(m.primary)
	if !includeSecondary || len(m.secondary) == 0 {
		return merged
	}
	for key, value := range m.secondary {
		merged[key] = deepCopy(value)
	}
	return merged
}

// MergeDefault is Merge(true).
func (m *Manager) MergeDefault() Values {
	return m.Merge(true)
}
