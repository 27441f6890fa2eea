package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// World composes the entity registry, component stores, systems and event
// bus of one simulation. A World is not safe for concurrent use: it belongs
// to the goroutine that ticks it.
type World struct {
	entities   *EntityManager
	components *ComponentManager
	systems    *SystemManager
	events     *EventBus

	Logger zerolog.Logger
	tick   uint64
}

// Option configures a World.
type Option func(*World)

// WithMaxEntities bounds the number of live entities.
func WithMaxEntities(n int) Option {
	return func(w *World) {
		w.entities = NewEntityManager(n)
	}
}

// WithLogger sets the world logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *World) {
		w.Logger = l
	}
}

// NewWorld creates an empty world.
func NewWorld(opts ...Option) *World {
	w := &World{
		entities:   NewEntityManager(DefaultMaxEntities),
		components: NewComponentManager(),
		systems:    NewSystemManager(),
		events:     NewEventBus(),
		Logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateEntity allocates a new entity with an empty signature.
func (w *World) CreateEntity() (Entity, error) {
	return w.entities.Create()
}

// DestroyEntity removes e and all its components. Dead entities are ignored.
func (w *World) DestroyEntity(e Entity) {
	if !w.entities.IsAlive(e) {
		return
	}
	w.components.RemoveAll(e)
	w.systems.entityDestroyed(e)
	w.entities.Destroy(e)
}

// IsAlive reports whether e is alive.
func (w *World) IsAlive(e Entity) bool {
	return w.entities.IsAlive(e)
}

// EntityCount returns the number of live entities.
func (w *World) EntityCount() int {
	return w.entities.Living()
}

// Signature returns e's component signature.
func (w *World) Signature(e Entity) (Signature, error) {
	return w.entities.Signature(e)
}

// Events returns the world's event bus.
func (w *World) Events() *EventBus {
	return w.events
}

// Tick returns the number of completed updates.
func (w *World) Tick() uint64 {
	return w.tick
}

func (w *World) setBit(e Entity, id ComponentID, on bool) error {
	sig, err := w.entities.Signature(e)
	if err != nil {
		return err
	}
	next := sig.Without(id)
	if on {
		next = sig.With(id)
	}
	if next == sig {
		return nil
	}
	if err := w.entities.SetSignature(e, next); err != nil {
		return err
	}
	w.systems.signatureChanged(e, next)
	return nil
}

// AddComponent attaches v to e, overwriting any existing T.
func AddComponent[T any](w *World, e Entity, v T) error {
	if !w.entities.IsAlive(e) {
		return eris.Wrapf(ErrEntityNotAlive, "add %s to %d", reflect.TypeFor[T](), e)
	}
	StoreOf[T](w.components).Add(e, v)
	return w.setBit(e, ComponentIDOf[T](), true)
}

// GetComponent returns a pointer to e's T. See ComponentStore for pointer lifetime.
func GetComponent[T any](w *World, e Entity) (*T, error) {
	return StoreOf[T](w.components).Get(e)
}

// LookupComponent is GetComponent for callers that branch on presence.
func LookupComponent[T any](w *World, e Entity) (*T, bool) {
	return StoreOf[T](w.components).Lookup(e)
}

// HasComponent reports whether e holds a T.
func HasComponent[T any](w *World, e Entity) bool {
	return StoreOf[T](w.components).Has(e)
}

// RemoveComponent detaches T from e. Removing an absent component is a no-op.
func RemoveComponent[T any](w *World, e Entity) error {
	if !w.entities.IsAlive(e) {
		return eris.Wrapf(ErrEntityNotAlive, "remove %s from %d", reflect.TypeFor[T](), e)
	}
	StoreOf[T](w.components).Remove(e)
	return w.setBit(e, ComponentIDOf[T](), false)
}

// Components returns the typed store for T.
func Components[T any](w *World) *ComponentStore[T] {
	return StoreOf[T](w.components)
}

// RegisterSystem attaches the system built by build, unless a system of the
// same type is already registered, in which case that one is returned and
// build is not called.
func RegisterSystem[S System](w *World, build func() S) (S, error) {
	if existing, ok := w.systems.lookup(reflect.TypeFor[S]()); ok {
		return existing.(S), nil
	}
	s := build()
	if err := w.systems.add(s, w.entities); err != nil {
		var zero S
		return zero, err
	}
	if init, ok := any(s).(Initializer); ok {
		init.Init(w)
	}
	return s, nil
}

// GetSystem returns the registered system of type S.
func GetSystem[S System](w *World) (S, bool) {
	s, ok := w.systems.lookup(reflect.TypeFor[S]())
	if !ok {
		var zero S
		return zero, false
	}
	return s.(S), true
}

// RemoveSystem detaches the system of type S. The last system takes its
// place in the execution order. It fails when called from inside Update.
func RemoveSystem[S System](w *World) error {
	s, err := w.systems.remove(reflect.TypeFor[S]())
	if err != nil {
		return err
	}
	if c, ok := s.(Closer); ok {
		c.Close()
	}
	return nil
}

// Systems returns the system manager.
func (w *World) Systems() *SystemManager {
	return w.systems
}

// Entities returns a copy of the entities currently matching s.
func (w *World) Entities(s System) []Entity {
	return w.systems.entitiesOf(s)
}

// Each calls fn for every entity matching s that is still alive when reached.
func (w *World) Each(s System, fn func(e Entity)) {
	for _, e := range w.systems.entitiesOf(s) {
		if w.entities.IsAlive(e) {
			fn(e)
		}
	}
}

// Query returns every live entity whose signature contains required,
// in ascending handle order.
func (w *World) Query(required Signature) []Entity {
	var out []Entity
	w.entities.Each(func(e Entity, sig Signature) {
		if sig.Contains(required) {
			out = append(out, e)
		}
	})
	return out
}

// Update runs every system once, in registration order.
func (w *World) Update(dt float64) {
	w.systems.update(w, dt)
	w.tick++
}

// Clear tears the world down: systems are closed, subscriptions released,
// stores emptied and the handle space reset.
func (w *World) Clear() {
	for _, s := range w.systems.clear() {
		if c, ok := s.(Closer); ok {
			c.Close()
		}
	}
	w.events.Clear()
	w.components.Clear()
	w.entities.Clear()
	w.tick = 0
}
