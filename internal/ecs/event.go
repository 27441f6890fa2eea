package ecs

import "reflect"

// EventBus is a type-keyed synchronous publish/subscribe channel.
//
// Emit dispatches to the subscribers present when the dispatch starts.
// Subscribing from inside a handler does not add to the running dispatch,
// and a subscription released mid-dispatch is skipped.
type EventBus struct {
	handlers map[reflect.Type][]*Subscription
}

// Subscription is the only handle to a registered callback. Release it to
// unsubscribe; dropping the reference does not.
type Subscription struct {
	bus      *EventBus
	typ      reflect.Type
	fn       any
	released bool
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[reflect.Type][]*Subscription)}
}

// Subscribe registers fn for events of type E.
func Subscribe[E any](bus *EventBus, fn func(E)) *Subscription {
	t := reflect.TypeFor[E]()
	sub := &Subscription{bus: bus, typ: t, fn: fn}
	bus.handlers[t] = append(bus.handlers[t], sub)
	return sub
}

// Emit delivers ev to every live subscriber of E in subscription order.
func Emit[E any](bus *EventBus, ev E) {
	// Release rebuilds the slice instead of editing it, and Subscribe only
	// appends past our length, so this header is a stable snapshot.
	subs := bus.handlers[reflect.TypeFor[E]()]
	for _, sub := range subs {
		if sub.released {
			continue
		}
		sub.fn.(func(E))(ev)
	}
}

// Release unregisters the callback. It is safe to call more than once.
func (s *Subscription) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true

	old := s.bus.handlers[s.typ]
	kept := make([]*Subscription, 0, len(old))
	for _, other := range old {
		if other != s {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(s.bus.handlers, s.typ)
		return
	}
	s.bus.handlers[s.typ] = kept
}

// Released reports whether Release has been called.
func (s *Subscription) Released() bool {
	return s.released
}

// SubscriberCount returns the number of live subscribers for E.
func SubscriberCount[E any](bus *EventBus) int {
	return len(bus.handlers[reflect.TypeFor[E]()])
}

// Clear releases every subscription.
func (bus *EventBus) Clear() {
	for t, subs := range bus.handlers {
		for _, sub := range subs {
			sub.released = true
		}
		delete(bus.handlers, t)
	}
}
