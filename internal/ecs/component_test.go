package ecs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type position struct{ X, Y float64 }

func TestComponentStoreAddOverwrites(t *testing.T) {
	s := NewComponentStore[position]()
	s.Add(4, position{X: 1})
	s.Add(4, position{X: 2})

	assert.Equal(t, 1, s.Len())
	p, err := s.Get(4)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.X)
}

func TestComponentStoreGetMissing(t *testing.T) {
	s := NewComponentStore[position]()
	_, err := s.Get(0)
	assert.ErrorIs(t, err, ErrComponentNotFound)
	assert.False(t, s.Has(1000))

	// Removing something that is not there is a no-op.
	s.Remove(12)
	assert.Equal(t, 0, s.Len())
}

func TestComponentStoreSwapRemove(t *testing.T) {
	s := NewComponentStore[position]()
	for e := Entity(0); e < 4; e++ {
		s.Add(e, position{X: float64(e)})
	}

	s.Remove(1)

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Has(1))
	assert.Equal(t, []Entity{0, 3, 2}, s.Entities())
	p, err := s.Get(3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.X)
}

// Random add/remove sequences must never corrupt the slots of unrelated entities.
func TestComponentStoreSwapRemoveKeepsValues(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewComponentStore[position]()
	want := map[Entity]position{}

	for step := 0; step < 5000; step++ {
		e := Entity(rng.Intn(200))
		if rng.Intn(3) == 0 {
			s.Remove(e)
			delete(want, e)
		} else {
			v := position{X: rng.Float64(), Y: float64(step)}
			s.Add(e, v)
			want[e] = v
		}

		if step%50 != 0 {
			continue
		}
		require.Equal(t, len(want), s.Len())
		for e, v := range want {
			got, err := s.Get(e)
			require.NoError(t, err, "entity %d", e)
			require.Equal(t, v, *got, "entity %d", e)
		}
	}
}

func TestComponentManagerRemoveAll(t *testing.T) {
	cm := NewComponentManager()
	StoreOf[position](cm).Add(1, position{})
	StoreOf[sigProbeA](cm).Add(1, sigProbeA{V: 1})
	StoreOf[sigProbeA](cm).Add(2, sigProbeA{V: 2})

	cm.RemoveAll(1)

	assert.False(t, StoreOf[position](cm).Has(1))
	assert.False(t, StoreOf[sigProbeA](cm).Has(1))
	assert.True(t, StoreOf[sigProbeA](cm).Has(2))
}
