package util

import "sync"

// Memo caches the result of a computation and recomputes it only when the dependency
// value changes by DeepEqual, regardless of reference identity.
type Memo[D any, V any] struct {
	mu       sync.Mutex
	deps     D
	value    V
	ready    bool
	computed int
}

func (m *Memo[D, V]) Get(deps D, compute func(D) V) V {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready && DeepEqual(m.deps, deps) {
		return m.value
	}
	m.deps = deps
	m.value = compute(deps)
	m.ready = true
	m.computed++
	return m.value
}

// Computations returns how many times the value was (re)computed.
func (m *Memo[D, V]) Computations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.computed
}
