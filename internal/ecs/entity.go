package ecs

import "github.com/rotisserie/eris"

// Entity is an opaque handle. It carries no data of its own.
type Entity uint32

// DefaultMaxEntities bounds the number of simultaneously alive entities in a world.
const DefaultMaxEntities = 5000

// EntityManager issues and recycles entity handles and owns their signatures.
//
// Freed handles are reused LIFO before the high-water mark grows, so a world
// that churns projectiles keeps its handle space (and every sparse index
// keyed by it) compact.
type EntityManager struct {
	alive      []bool
	signatures []Signature
	free       []Entity
	next       Entity
	living     int
	max        int
}

// NewEntityManager creates a registry that allows at most max live entities.
func NewEntityManager(max int) *EntityManager {
	if max <= 0 {
		max = DefaultMaxEntities
	}
	return &EntityManager{
		alive:      make([]bool, 0, 256),
		signatures: make([]Signature, 0, 256),
		free:       make([]Entity, 0, 64),
		max:        max,
	}
}

// Create returns a fresh handle, preferring the most recently freed one.
func (m *EntityManager) Create() (Entity, error) {
	if m.living >= m.max {
		return 0, eris.Wrapf(ErrEntityLimit, "%d of %d alive", m.living, m.max)
	}

	var e Entity
	if n := len(m.free); n > 0 {
		e = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		e = m.next
		m.next++
		m.alive = append(m.alive, false)
		m.signatures = append(m.signatures, 0)
	}

	m.alive[e] = true
	m.signatures[e] = 0
	m.living++
	return e, nil
}

// Destroy releases e. Destroying a dead or unknown entity is a no-op.
func (m *EntityManager) Destroy(e Entity) {
	if !m.IsAlive(e) {
		return
	}
	m.alive[e] = false
	m.signatures[e] = 0
	m.free = append(m.free, e)
	m.living--
}

// IsAlive reports whether e is currently alive.
func (m *EntityManager) IsAlive(e Entity) bool {
	return int(e) < len(m.alive) && m.alive[e]
}

// SetSignature replaces the component signature of e.
func (m *EntityManager) SetSignature(e Entity, sig Signature) error {
	if !m.IsAlive(e) {
		return eris.Wrapf(ErrEntityNotAlive, "set signature of %d", e)
	}
	m.signatures[e] = sig
	return nil
}

// Signature returns the component signature of e.
func (m *EntityManager) Signature(e Entity) (Signature, error) {
	if !m.IsAlive(e) {
		return 0, eris.Wrapf(ErrEntityNotAlive, "signature of %d", e)
	}
	return m.signatures[e], nil
}

// Living returns the number of alive entities.
func (m *EntityManager) Living() int {
	return m.living
}

// HighWater returns the number of distinct handles ever issued.
func (m *EntityManager) HighWater() int {
	return int(m.next)
}

// Each calls fn for every alive entity in ascending handle order.
func (m *EntityManager) Each(fn func(e Entity, sig Signature)) {
	for i, ok := range m.alive {
		if ok {
			fn(Entity(i), m.signatures[i])
		}
	}
}

// Clear forgets every entity and resets the handle counter.
func (m *EntityManager) Clear() {
	m.alive = m.alive[:0]
	m.signatures = m.signatures[:0]
	m.free = m.free[:0]
	m.next = 0
	m.living = 0
}
