package game

import (
	"math/rand/v2"

	"rtype/internal/ecs"
)

// Settings is the match configuration a lobby hands to its arena.
type Settings struct {
	Width      float64
	Height     float64
	Difficulty Difficulty
	Mode       Mode
	AIStrength float64 // 1 is baseline; scales enemy speed and fire rate
	Seed       uint64
}

// DefaultSettings returns an 800x600 MEDIUM classic match.
func DefaultSettings() Settings {
	return Settings{
		Width:      800,
		Height:     600,
		Difficulty: DifficultyMedium,
		Mode:       ModeClassic,
		AIStrength: 1,
	}
}

// Arena is the per-world gameplay context shared by the gameplay systems:
// bounds, match settings, the RNG, network id allocation and the deferred
// destroy list. It lives and dies with one World.
type Arena struct {
	Settings

	rng       *rand.Rand
	nextNetID uint32
	elapsed   float64

	doomed    []ecs.Entity
	doomedSet map[ecs.Entity]struct{}
}

// NewArena creates an arena. A zero Seed draws a random one.
func NewArena(s Settings) *Arena {
	if s.Width <= 0 || s.Height <= 0 {
		d := DefaultSettings()
		s.Width, s.Height = d.Width, d.Height
	}
	if s.AIStrength <= 0 {
		s.AIStrength = 1
	}
	seed := s.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Arena{
		Settings:  s,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		doomedSet: make(map[ecs.Entity]struct{}),
	}
}

// NextNetID returns a fresh replication id. Ids start at 1.
func (a *Arena) NextNetID() uint32 {
	a.nextNetID++
	return a.nextNetID
}

// Rand returns the arena's deterministic RNG.
func (a *Arena) Rand() *rand.Rand {
	return a.rng
}

// Elapsed is the simulated time since the match started.
func (a *Arena) Elapsed() float64 {
	return a.elapsed
}

// Doom schedules e for destruction by the death system at the end of the
// current tick. Scheduling twice is harmless.
func (a *Arena) Doom(e ecs.Entity) {
	if _, ok := a.doomedSet[e]; ok {
		return
	}
	a.doomedSet[e] = struct{}{}
	a.doomed = append(a.doomed, e)
}

// Doomed reports whether e is waiting to be destroyed.
func (a *Arena) Doomed(e ecs.Entity) bool {
	_, ok := a.doomedSet[e]
	return ok
}

// reap destroys every doomed entity, then any follower left without a
// parent, so a recycled parent handle is never adopted.
func (a *Arena) reap(w *ecs.World) int {
	n := 0
	for len(a.doomed) > 0 {
		for _, e := range a.doomed {
			if w.IsAlive(e) {
				w.DestroyEntity(e)
				n++
			}
		}
		a.doomed = a.doomed[:0]
		clear(a.doomedSet)

		ecs.Components[Follower](w).Each(func(e ecs.Entity, f *Follower) {
			if !w.IsAlive(f.Parent) {
				a.Doom(e)
			}
		})
	}
	return n
}

// InBounds reports whether (x, y) lies inside the arena expanded by margin.
func (a *Arena) InBounds(x, y, margin float64) bool {
	return x >= -margin && x <= a.Width+margin && y >= -margin && y <= a.Height+margin
}
