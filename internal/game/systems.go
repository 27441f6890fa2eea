package game

import (
	"math"

	"rtype/internal/ecs"
)

func sigOf(ids ...ecs.ComponentID) ecs.Signature {
	return ecs.MakeSignature(ids...)
}

// InputSystem turns the latest Input of each player into a Velocity.
// Inputs arrive as PlayerInputEvent from the lobby.
type InputSystem struct {
	sig ecs.Signature
	sub *ecs.Subscription
}

func NewInputSystem() *InputSystem {
	return &InputSystem{sig: sigOf(
		ecs.ComponentIDOf[Input](),
		ecs.ComponentIDOf[Velocity](),
		ecs.ComponentIDOf[PlayerTag](),
	)}
}

func (s *InputSystem) Signature() ecs.Signature { return s.sig }

func (s *InputSystem) Init(w *ecs.World) {
	s.sub = ecs.Subscribe(w.Events(), func(ev PlayerInputEvent) {
		if in, ok := ecs.LookupComponent[Input](w, ev.Entity); ok {
			*in = ev.Input
		}
	})
}

func (s *InputSystem) Close() { s.sub.Release() }

func (s *InputSystem) Update(w *ecs.World, _ float64) {
	w.Each(s, func(e ecs.Entity) {
		in, _ := ecs.GetComponent[Input](w, e)
		var dx, dy float64
		if in.Left {
			dx--
		}
		if in.Right {
			dx++
		}
		if in.Up {
			dy--
		}
		if in.Down {
			dy++
		}
		if dx != 0 && dy != 0 {
			dx, dy = dx*math.Sqrt2/2, dy*math.Sqrt2/2
		}
		v, _ := ecs.GetComponent[Velocity](w, e)
		v.X, v.Y = dx*PlayerSpeed, dy*PlayerSpeed
	})
}

// PatternSystem drives scripted enemy movement.
type PatternSystem struct {
	sig ecs.Signature
}

func NewPatternSystem() *PatternSystem {
	return &PatternSystem{sig: sigOf(
		ecs.ComponentIDOf[Pattern](),
		ecs.ComponentIDOf[Transform](),
		ecs.ComponentIDOf[Velocity](),
	)}
}

func (s *PatternSystem) Signature() ecs.Signature { return s.sig }

func (s *PatternSystem) Update(w *ecs.World, dt float64) {
	w.Each(s, func(e ecs.Entity) {
		p, _ := ecs.GetComponent[Pattern](w, e)
		v, _ := ecs.GetComponent[Velocity](w, e)
		p.Elapsed += dt
		v.X = -p.Speed
		phase := 2 * math.Pi * p.Frequency * p.Elapsed
		switch p.Kind {
		case PatternSine:
			v.Y = p.Amplitude * 2 * math.Pi * p.Frequency * math.Cos(phase)
		case PatternZigzag:
			// Triangle wave: constant vertical speed, flipping every half period.
			speed := 4 * p.Amplitude * p.Frequency
			if math.Sin(phase) >= 0 {
				v.Y = speed
			} else {
				v.Y = -speed
			}
		default:
			v.Y = 0
		}
	})
}

// SpawnerSystem emits enemy waves on a timer and fulfils SpawnRequestEvents.
type SpawnerSystem struct {
	arena *Arena
	timer float64
	sub   *ecs.Subscription

	Spawned int
	Failed  int
}

func NewSpawnerSystem(a *Arena) *SpawnerSystem {
	return &SpawnerSystem{arena: a, timer: 1}
}

func (s *SpawnerSystem) Signature() ecs.Signature { return 0 }

func (s *SpawnerSystem) Init(w *ecs.World) {
	s.sub = ecs.Subscribe(w.Events(), func(ev SpawnRequestEvent) {
		if _, err := SpawnEnemy(w, s.arena, ev.Kind, ev.X, ev.Y); err != nil {
			s.Failed++
			w.Logger.Debug().Err(err).Stringer("kind", ev.Kind).Msg("enemy spawn failed")
			return
		}
		s.Spawned++
	})
}

func (s *SpawnerSystem) Close() { s.sub.Release() }

// Interval returns the current seconds between waves.
func (s *SpawnerSystem) Interval() float64 {
	iv := spawnInterval(s.arena.Difficulty) / s.arena.AIStrength
	if s.arena.Mode == ModeSurvival {
		iv *= max(0.35, 1-s.arena.elapsed/300)
	}
	return iv
}

func (s *SpawnerSystem) Update(w *ecs.World, dt float64) {
	a := s.arena
	a.elapsed += dt
	s.timer -= dt
	if s.timer > 0 {
		return
	}
	s.timer += s.Interval()

	rng := a.Rand()
	size := 1 + rng.IntN(int(a.Difficulty)+2)
	for range size {
		kind := EnemyGrunt
		switch r := rng.Float64(); {
		case r > 0.85:
			kind = EnemyZigzag
		case r > 0.55:
			kind = EnemyWaver
		}
		y := 40 + rng.Float64()*max(1, a.Height-80)
		ecs.Emit(w.Events(), SpawnRequestEvent{Kind: kind, X: a.Width + 20, Y: y})
	}
}

// WeaponSystem cools weapons down and fires projectiles.
type WeaponSystem struct {
	sig   ecs.Signature
	arena *Arena
}

func NewWeaponSystem(a *Arena) *WeaponSystem {
	return &WeaponSystem{
		arena: a,
		sig:   sigOf(ecs.ComponentIDOf[Weapon](), ecs.ComponentIDOf[Transform]()),
	}
}

func (s *WeaponSystem) Signature() ecs.Signature { return s.sig }

func (s *WeaponSystem) Update(w *ecs.World, dt float64) {
	w.Each(s, func(e ecs.Entity) {
		if s.arena.Doomed(e) {
			return
		}
		wp, _ := ecs.GetComponent[Weapon](w, e)
		if wp.Timer > 0 {
			wp.Timer -= dt
		}
		if wp.Timer > 0 {
			return
		}
		if !wp.AutoFire {
			in, ok := ecs.LookupComponent[Input](w, e)
			if !ok || !in.Shoot {
				return
			}
		}
		wp.Timer += wp.Cooldown
		if wp.Timer < 0 {
			wp.Timer = 0
		}
		// Copy out before spawning: creating the projectile may grow the
		// stores these pointers live in.
		damage, speed := wp.Damage, wp.Speed
		t, _ := ecs.GetComponent[Transform](w, e)
		x, y := t.X, t.Y

		owner := NoClient
		if o, ok := ecs.LookupComponent[Owner](w, e); ok {
			owner = o.ClientID
		}
		if _, err := SpawnProjectile(w, s.arena, x, y, speed, damage, owner); err != nil {
			w.Logger.Debug().Err(err).Uint32("entity", uint32(e)).Msg("projectile spawn failed")
		}
	})
}

// MovementSystem integrates Velocity into Transform.
type MovementSystem struct {
	sig ecs.Signature
}

func NewMovementSystem() *MovementSystem {
	return &MovementSystem{sig: sigOf(ecs.ComponentIDOf[Transform](), ecs.ComponentIDOf[Velocity]())}
}

func (s *MovementSystem) Signature() ecs.Signature { return s.sig }

func (s *MovementSystem) Update(w *ecs.World, dt float64) {
	w.Each(s, func(e ecs.Entity) {
		t, _ := ecs.GetComponent[Transform](w, e)
		v, _ := ecs.GetComponent[Velocity](w, e)
		t.X += v.X * dt
		t.Y += v.Y * dt
	})
}

// FollowerSystem pins followers to their parent and destroys orphans.
type FollowerSystem struct {
	sig   ecs.Signature
	arena *Arena
}

func NewFollowerSystem(a *Arena) *FollowerSystem {
	return &FollowerSystem{
		arena: a,
		sig:   sigOf(ecs.ComponentIDOf[Follower](), ecs.ComponentIDOf[Transform]()),
	}
}

func (s *FollowerSystem) Signature() ecs.Signature { return s.sig }

func (s *FollowerSystem) Update(w *ecs.World, _ float64) {
	w.Each(s, func(e ecs.Entity) {
		f, _ := ecs.GetComponent[Follower](w, e)
		pt, ok := ecs.LookupComponent[Transform](w, f.Parent)
		if !w.IsAlive(f.Parent) || !ok || s.arena.Doomed(f.Parent) {
			s.arena.Doom(e)
			return
		}
		t, _ := ecs.GetComponent[Transform](w, e)
		t.X, t.Y = pt.X+f.OffsetX, pt.Y+f.OffsetY
	})
}

// BoundarySystem keeps players inside the arena and retires anything else
// that leaves it.
type BoundarySystem struct {
	sig    ecs.Signature
	arena  *Arena
	Margin float64
}

func NewBoundarySystem(a *Arena) *BoundarySystem {
	return &BoundarySystem{arena: a, Margin: 100, sig: sigOf(ecs.ComponentIDOf[Transform]())}
}

func (s *BoundarySystem) Signature() ecs.Signature { return s.sig }

func (s *BoundarySystem) Update(w *ecs.World, _ float64) {
	a := s.arena
	w.Each(s, func(e ecs.Entity) {
		t, _ := ecs.GetComponent[Transform](w, e)
		if ecs.HasComponent[PlayerTag](w, e) {
			t.X = min(max(t.X, 0), a.Width)
			t.Y = min(max(t.Y, 0), a.Height)
			return
		}
		if !a.InBounds(t.X, t.Y, s.Margin) {
			a.Doom(e)
		}
	})
}

// LifetimeSystem expires Lifetime entities and Invulnerable windows.
type LifetimeSystem struct {
	sig     ecs.Signature
	arena   *Arena
	expired []ecs.Entity
}

func NewLifetimeSystem(a *Arena) *LifetimeSystem {
	return &LifetimeSystem{arena: a, sig: sigOf(ecs.ComponentIDOf[Lifetime]())}
}

func (s *LifetimeSystem) Signature() ecs.Signature { return s.sig }

func (s *LifetimeSystem) Update(w *ecs.World, dt float64) {
	w.Each(s, func(e ecs.Entity) {
		l, _ := ecs.GetComponent[Lifetime](w, e)
		l.Remaining -= dt
		if l.Remaining <= 0 {
			s.arena.Doom(e)
		}
	})

	s.expired = s.expired[:0]
	ecs.Components[Invulnerable](w).Each(func(e ecs.Entity, inv *Invulnerable) {
		inv.Remaining -= dt
		if inv.Remaining <= 0 {
			s.expired = append(s.expired, e)
		}
	})
	for _, e := range s.expired {
		_ = ecs.RemoveComponent[Invulnerable](w, e)
	}
}

// AnimationSystem advances sprite frames.
type AnimationSystem struct {
	sig ecs.Signature
}

func NewAnimationSystem() *AnimationSystem {
	return &AnimationSystem{sig: sigOf(ecs.ComponentIDOf[Sprite]())}
}

func (s *AnimationSystem) Signature() ecs.Signature { return s.sig }

func (s *AnimationSystem) Update(w *ecs.World, dt float64) {
	w.Each(s, func(e ecs.Entity) {
		sp, _ := ecs.GetComponent[Sprite](w, e)
		if sp.FrameCount <= 1 || sp.FrameTime <= 0 {
			return
		}
		sp.Elapsed += dt
		for sp.Elapsed >= sp.FrameTime {
			sp.Elapsed -= sp.FrameTime
			sp.Frame++
			if sp.Frame >= sp.FrameCount {
				if sp.Loop {
					sp.Frame = 0
				} else {
					sp.Frame = sp.FrameCount - 1
					sp.Elapsed = 0
					return
				}
			}
		}
	})
}
