package ecs

import (
	"math/bits"
	"reflect"
	"sync"

	"github.com/rotisserie/eris"
)

// MaxComponents is the fixed width of a Signature.
const MaxComponents = 64

// ComponentID is the stable bit index assigned to a component type.
type ComponentID uint8

// Signature marks which component types an entity holds, or a system requires.
type Signature uint64

// MakeSignature builds a signature with the given bits set.
func MakeSignature(ids ...ComponentID) Signature {
	var s Signature
	for _, id := range ids {
		s = s.With(id)
	}
	return s
}

// With returns s with bit id set.
func (s Signature) With(id ComponentID) Signature {
	return s | 1<<id
}

// Without returns s with bit id cleared.
func (s Signature) Without(id ComponentID) Signature {
	return s &^ (1 << id)
}

// Has reports whether bit id is set.
func (s Signature) Has(id ComponentID) bool {
	return s&(1<<id) != 0
}

// Contains reports whether every bit of required is also set in s.
func (s Signature) Contains(required Signature) bool {
	return s&required == required
}

// Len returns the number of set bits.
func (s Signature) Len() int {
	return bits.OnesCount64(uint64(s))
}

// Process-wide component type registry. Bit indices never change once handed out.
var componentTypes = struct {
	sync.Mutex
	ids   map[reflect.Type]ComponentID
	names []string
}{ids: make(map[reflect.Type]ComponentID)}

// RegisterComponent assigns (or returns the already assigned) bit index for T.
func RegisterComponent[T any]() (ComponentID, error) {
	t := reflect.TypeFor[T]()

	componentTypes.Lock()
	defer componentTypes.Unlock()

	if id, ok := componentTypes.ids[t]; ok {
		return id, nil
	}
	n := len(componentTypes.names)
	if n >= MaxComponents {
		return 0, eris.Wrapf(ErrTooManyComponents, "registering %s", t)
	}
	id := ComponentID(n)
	componentTypes.ids[t] = id
	componentTypes.names = append(componentTypes.names, t.String())
	return id, nil
}

// ComponentIDOf returns the bit index for T, assigning one on first use.
// Exceeding MaxComponents is a programming error and panics.
func ComponentIDOf[T any]() ComponentID {
	id, err := RegisterComponent[T]()
	if err != nil {
		panic(err)
	}
	return id
}

// ComponentName returns the Go type name registered under id.
func ComponentName(id ComponentID) string {
	componentTypes.Lock()
	defer componentTypes.Unlock()
	if int(id) < len(componentTypes.names) {
		return componentTypes.names[id]
	}
	return ""
}
