package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"
)

// System is a unit of per-tick behavior over the entities that match its signature.
type System interface {
	Signature() Signature
	Update(w *World, dt float64)
}

// Initializer is implemented by systems that subscribe to events or cache
// stores once they are attached to a world.
type Initializer interface {
	Init(w *World)
}

// Closer is implemented by systems that hold subscriptions or other resources.
type Closer interface {
	Close()
}

// entitySet is an insertion-ordered set with O(1) swap-remove.
type entitySet struct {
	items []Entity
	pos   map[Entity]int
}

func newEntitySet() *entitySet {
	return &entitySet{pos: make(map[Entity]int)}
}

func (s *entitySet) add(e Entity) {
	if _, ok := s.pos[e]; ok {
		return
	}
	s.pos[e] = len(s.items)
	s.items = append(s.items, e)
}

func (s *entitySet) remove(e Entity) {
	i, ok := s.pos[e]
	if !ok {
		return
	}
	last := len(s.items) - 1
	if i != last {
		moved := s.items[last]
		s.items[i] = moved
		s.pos[moved] = i
	}
	s.items = s.items[:last]
	delete(s.pos, e)
}

func (s *entitySet) snapshot() []Entity {
	out := make([]Entity, len(s.items))
	copy(out, s.items)
	return out
}

// SystemManager keeps systems in registration order together with the set
// of entities each one currently matches.
type SystemManager struct {
	systems  []System
	sets     []*entitySet
	index    map[reflect.Type]int
	updating bool
}

// NewSystemManager creates an empty manager.
func NewSystemManager() *SystemManager {
	return &SystemManager{index: make(map[reflect.Type]int)}
}

func (sm *SystemManager) lookup(t reflect.Type) (System, bool) {
	i, ok := sm.index[t]
	if !ok {
		return nil, false
	}
	return sm.systems[i], true
}

func (sm *SystemManager) add(s System, em *EntityManager) error {
	if sm.updating {
		return ErrSystemsUpdating
	}
	set := newEntitySet()
	required := s.Signature()
	if required != 0 {
		em.Each(func(e Entity, sig Signature) {
			if sig.Contains(required) {
				set.add(e)
			}
		})
	}
	sm.index[reflect.TypeOf(s)] = len(sm.systems)
	sm.systems = append(sm.systems, s)
	sm.sets = append(sm.sets, set)
	return nil
}

// remove swaps the last system into the removed slot and shrinks the list.
func (sm *SystemManager) remove(t reflect.Type) (System, error) {
	if sm.updating {
		return nil, ErrSystemsUpdating
	}
	i, ok := sm.index[t]
	if !ok {
		return nil, eris.Wrapf(ErrSystemNotFound, "%s", t)
	}
	removed := sm.systems[i]
	last := len(sm.systems) - 1
	if i != last {
		sm.systems[i] = sm.systems[last]
		sm.sets[i] = sm.sets[last]
		sm.index[reflect.TypeOf(sm.systems[i])] = i
	}
	sm.systems[last] = nil
	sm.sets[last] = nil
	sm.systems = sm.systems[:last]
	sm.sets = sm.sets[:last]
	delete(sm.index, t)
	return removed, nil
}

func (sm *SystemManager) signatureChanged(e Entity, sig Signature) {
	for i, s := range sm.systems {
		required := s.Signature()
		if required != 0 && sig.Contains(required) {
			sm.sets[i].add(e)
		} else {
			sm.sets[i].remove(e)
		}
	}
}

func (sm *SystemManager) entityDestroyed(e Entity) {
	for _, set := range sm.sets {
		set.remove(e)
	}
}

func (sm *SystemManager) entitiesOf(s System) []Entity {
	i, ok := sm.index[reflect.TypeOf(s)]
	if !ok {
		return nil
	}
	return sm.sets[i].snapshot()
}

func (sm *SystemManager) update(w *World, dt float64) {
	sm.updating = true
	defer func() { sm.updating = false }()
	for _, s := range sm.systems {
		s.Update(w, dt)
	}
}

// Len returns the number of registered systems.
func (sm *SystemManager) Len() int {
	return len(sm.systems)
}

// Systems returns the systems in execution order.
func (sm *SystemManager) Systems() []System {
	out := make([]System, len(sm.systems))
	copy(out, sm.systems)
	return out
}

func (sm *SystemManager) clear() []System {
	old := sm.systems
	sm.systems = nil
	sm.sets = nil
	sm.index = make(map[reflect.Type]int)
	return old
}
