package ecs

import "github.com/rotisserie/eris"

// AnyStore provides type-erased operations so the manager can drop an
// entity from every store without knowing the concrete component type.
type AnyStore interface {
	Remove(e Entity)
	Has(e Entity) bool
	Len() int
	Clear()
}

// ComponentStore is a dense array of T plus a sparse entity-to-slot index.
//
// Pointers returned by Get stay valid only until the next Remove on the same
// store: removal moves the last value into the freed slot.
type ComponentStore[T any] struct {
	values []T
	owners []Entity
	slotOf []int32 // -1 when absent
}

// NewComponentStore creates an empty store.
func NewComponentStore[T any]() *ComponentStore[T] {
	return &ComponentStore[T]{
		values: make([]T, 0, 64),
		owners: make([]Entity, 0, 64),
	}
}

func (s *ComponentStore[T]) slot(e Entity) int {
	if int(e) >= len(s.slotOf) {
		return -1
	}
	return int(s.slotOf[e])
}

// Add attaches v to e, overwriting in place if e already holds a T.
func (s *ComponentStore[T]) Add(e Entity, v T) {
	if i := s.slot(e); i >= 0 {
		s.values[i] = v
		return
	}
	for int(e) >= len(s.slotOf) {
		s.slotOf = append(s.slotOf, -1)
	}
	s.slotOf[e] = int32(len(s.values))
	s.values = append(s.values, v)
	s.owners = append(s.owners, e)
}

// Get returns a pointer to e's value.
func (s *ComponentStore[T]) Get(e Entity) (*T, error) {
	i := s.slot(e)
	if i < 0 {
		return nil, eris.Wrapf(ErrComponentNotFound, "entity %d", e)
	}
	return &s.values[i], nil
}

// Lookup is Get without the error allocation, for hot loops.
func (s *ComponentStore[T]) Lookup(e Entity) (*T, bool) {
	i := s.slot(e)
	if i < 0 {
		return nil, false
	}
	return &s.values[i], true
}

// Has reports whether e holds a T.
func (s *ComponentStore[T]) Has(e Entity) bool {
	return s.slot(e) >= 0
}

// Remove detaches T from e by moving the last dense value into its slot.
func (s *ComponentStore[T]) Remove(e Entity) {
	i := s.slot(e)
	if i < 0 {
		return
	}
	last := len(s.values) - 1
	if i != last {
		moved := s.owners[last]
		s.values[i] = s.values[last]
		s.owners[i] = moved
		s.slotOf[moved] = int32(i)
	}
	var zero T
	s.values[last] = zero
	s.values = s.values[:last]
	s.owners = s.owners[:last]
	s.slotOf[e] = -1
}

// Len returns the number of stored values.
func (s *ComponentStore[T]) Len() int {
	return len(s.values)
}

// Entities returns the dense owner list. The slice must not be modified
// and is invalidated by Add or Remove.
func (s *ComponentStore[T]) Entities() []Entity {
	return s.owners
}

// Each visits every value in dense order. fn must not add or remove T.
func (s *ComponentStore[T]) Each(fn func(e Entity, v *T)) {
	for i := range s.values {
		fn(s.owners[i], &s.values[i])
	}
}

// Clear drops every value.
func (s *ComponentStore[T]) Clear() {
	clear(s.values)
	s.values = s.values[:0]
	s.owners = s.owners[:0]
	s.slotOf = s.slotOf[:0]
}

// ComponentManager owns one store per registered component type.
type ComponentManager struct {
	stores [MaxComponents]AnyStore
	order  []ComponentID
}

// NewComponentManager creates an empty manager.
func NewComponentManager() *ComponentManager {
	return &ComponentManager{order: make([]ComponentID, 0, 16)}
}

// StoreOf returns the store for T, creating it on first use.
func StoreOf[T any](cm *ComponentManager) *ComponentStore[T] {
	id := ComponentIDOf[T]()
	if s := cm.stores[id]; s != nil {
		return s.(*ComponentStore[T])
	}
	s := NewComponentStore[T]()
	cm.stores[id] = s
	cm.order = append(cm.order, id)
	return s
}

// Store returns the type-erased store for id, or nil.
func (cm *ComponentManager) Store(id ComponentID) AnyStore {
	return cm.stores[id]
}

// RemoveAll removes e from every store.
func (cm *ComponentManager) RemoveAll(e Entity) {
	for _, id := range cm.order {
		cm.stores[id].Remove(e)
	}
}

// Clear empties every store but keeps them registered.
func (cm *ComponentManager) Clear() {
	for _, id := range cm.order {
		cm.stores[id].Clear()
	}
}
