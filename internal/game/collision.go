package game

import (
	"math"

	"rtype/internal/ecs"
	"rtype/internal/game/spatial"
)

const collisionCellSize = 64

type collisionBody struct {
	e      ecs.Entity
	x, y   float64
	hw, hh float64
}

// CollisionSystem finds overlapping colliders with a uniform grid broad phase
// and an AABB narrow phase, emitting one CollisionEvent per pair.
type CollisionSystem struct {
	sig    ecs.Signature
	arena  *Arena
	grid   *spatial.Grid
	bodies []collisionBody

	Pairs int // pairs reported during the last update
}

func NewCollisionSystem(a *Arena) *CollisionSystem {
	return &CollisionSystem{
		arena: a,
		grid:  spatial.NewGrid(a.Width, a.Height, collisionCellSize, 256),
		sig:   sigOf(ecs.ComponentIDOf[Transform](), ecs.ComponentIDOf[Collider]()),
	}
}

func (s *CollisionSystem) Signature() ecs.Signature { return s.sig }

func (s *CollisionSystem) Update(w *ecs.World, _ float64) {
	s.grid.Clear()
	s.bodies = s.bodies[:0]
	s.Pairs = 0

	var maxHW, maxHH float64
	w.Each(s, func(e ecs.Entity) {
		if s.arena.Doomed(e) {
			return
		}
		t, _ := ecs.GetComponent[Transform](w, e)
		c, _ := ecs.GetComponent[Collider](w, e)
		scale := t.Scale
		if scale <= 0 {
			scale = 1
		}
		b := collisionBody{e: e, x: t.X, y: t.Y, hw: c.W * scale / 2, hh: c.H * scale / 2}
		maxHW, maxHH = max(maxHW, b.hw), max(maxHH, b.hh)
		s.grid.Insert(uint32(len(s.bodies)), b.x, b.y)
		s.bodies = append(s.bodies, b)
	})

	for i := range s.bodies {
		a := s.bodies[i]
		if s.arena.Doomed(a.e) {
			continue
		}
		candidates := s.grid.QueryRect(a.x-a.hw-maxHW, a.y-a.hh-maxHH, a.x+a.hw+maxHW, a.y+a.hh+maxHH)
		for _, idx := range candidates {
			j := int(idx)
			if j <= i {
				continue
			}
			b := s.bodies[j]
			if math.Abs(a.x-b.x) >= a.hw+b.hw || math.Abs(a.y-b.y) >= a.hh+b.hh {
				continue
			}
			if s.arena.Doomed(a.e) || s.arena.Doomed(b.e) {
				continue
			}
			s.Pairs++
			ecs.Emit(w.Events(), CollisionEvent{A: min(a.e, b.e), B: max(a.e, b.e)})
		}
	}
}

// DamageSystem resolves collisions into damage and deaths.
type DamageSystem struct {
	arena *Arena
	sub   *ecs.Subscription
	w     *ecs.World
}

func NewDamageSystem(a *Arena) *DamageSystem {
	return &DamageSystem{arena: a}
}

func (s *DamageSystem) Signature() ecs.Signature { return 0 }

func (s *DamageSystem) Init(w *ecs.World) {
	s.w = w
	s.sub = ecs.Subscribe(w.Events(), s.onCollision)
}

func (s *DamageSystem) Close() { s.sub.Release() }

// Update has nothing left to do: damage is applied as collisions are emitted.
func (s *DamageSystem) Update(*ecs.World, float64) {}

type role uint8

const (
	roleOther role = iota
	rolePlayer
	roleEnemy
	rolePlayerShot
	roleEnemyShot
)

func (s *DamageSystem) roleOf(e ecs.Entity) role {
	w := s.w
	if p, ok := ecs.LookupComponent[Projectile](w, e); ok {
		if p.FromPlayer {
			return rolePlayerShot
		}
		return roleEnemyShot
	}
	if ecs.HasComponent[PlayerTag](w, e) {
		return rolePlayer
	}
	if ecs.HasComponent[EnemyTag](w, e) {
		return roleEnemy
	}
	return roleOther
}

func (s *DamageSystem) onCollision(ev CollisionEvent) {
	a, b := ev.A, ev.B
	ra, rb := s.roleOf(a), s.roleOf(b)
	if ra > rb {
		a, b, ra, rb = b, a, rb, ra
	}

	switch {
	case ra == rolePlayer && rb == roleEnemy:
		credit := ownerOf(s.w, a)
		if s.hit(a, b, ContactDamage, NoClient) {
			s.kill(b, a, credit)
		}
	case ra == roleEnemy && rb == rolePlayerShot:
		s.shot(b, a)
	case ra == rolePlayer && rb == roleEnemyShot:
		s.shot(b, a)
	}
}

// shot applies a projectile to target and consumes it.
func (s *DamageSystem) shot(projectile, target ecs.Entity) {
	p, _ := ecs.GetComponent[Projectile](s.w, projectile)
	damage := p.Damage
	s.arena.Doom(projectile)
	s.hit(target, projectile, damage, ownerOf(s.w, projectile))
}

// hit reduces target's HP. It returns false when the hit was absorbed.
func (s *DamageSystem) hit(target, source ecs.Entity, amount int, credit uint32) bool {
	w := s.w
	if s.arena.Doomed(target) {
		return false
	}
	if inv, ok := ecs.LookupComponent[Invulnerable](w, target); ok && inv.Remaining > 0 {
		return false
	}
	h, ok := ecs.LookupComponent[Health](w, target)
	if !ok {
		return false
	}
	h.HP = max(0, h.HP-amount)
	hp := h.HP

	if ecs.HasComponent[PlayerTag](w, target) && hp > 0 {
		_ = ecs.AddComponent(w, target, Invulnerable{Remaining: HitProtection})
	}
	ecs.Emit(w.Events(), DamageEvent{Target: target, Source: source, Amount: amount, HP: hp})
	if hp == 0 {
		s.die(target, credit)
	}
	return true
}

// kill destroys target outright, crediting credit.
func (s *DamageSystem) kill(target, source ecs.Entity, credit uint32) {
	h, ok := ecs.LookupComponent[Health](s.w, target)
	if !ok || s.arena.Doomed(target) {
		return
	}
	amount := h.HP
	h.HP = 0
	ecs.Emit(s.w.Events(), DamageEvent{Target: target, Source: source, Amount: amount})
	s.die(target, credit)
}

func (s *DamageSystem) die(e ecs.Entity, credit uint32) {
	w := s.w
	s.arena.Doom(e)
	ev := DeathEvent{Entity: e, Victim: NoClient, Killer: credit}
	if n, ok := ecs.LookupComponent[NetworkID](w, e); ok {
		ev.NetID = n.ID
	}
	if p, ok := ecs.LookupComponent[PlayerTag](w, e); ok {
		ev.Victim = p.ClientID
	}
	ecs.Emit(w.Events(), ev)
}

func ownerOf(w *ecs.World, e ecs.Entity) uint32 {
	if o, ok := ecs.LookupComponent[Owner](w, e); ok {
		return o.ClientID
	}
	return NoClient
}

// DeathSystem turns kills into score awards and destroys everything doomed
// during the tick.
type DeathSystem struct {
	arena *Arena
	sub   *ecs.Subscription

	Deaths int
}

func NewDeathSystem(a *Arena) *DeathSystem {
	return &DeathSystem{arena: a}
}

func (s *DeathSystem) Signature() ecs.Signature { return 0 }

func (s *DeathSystem) Init(w *ecs.World) {
	s.sub = ecs.Subscribe(w.Events(), func(ev DeathEvent) {
		s.Deaths++
		if ev.Killer == NoClient {
			return
		}
		if tag, ok := ecs.LookupComponent[EnemyTag](w, ev.Entity); ok {
			ecs.Emit(w.Events(), ScoreEvent{ClientID: ev.Killer, Points: tag.ScoreValue})
		}
	})
}

func (s *DeathSystem) Close() { s.sub.Release() }

func (s *DeathSystem) Update(w *ecs.World, _ float64) {
	s.arena.reap(w)
}

// ScoreSystem credits queued ScoreEvents to the owning player's Score.
// Awards for clients without a live ship are dropped here; the lobby keeps
// its own per-client totals.
type ScoreSystem struct {
	sub     *ecs.Subscription
	pending []ScoreEvent
}

func NewScoreSystem() *ScoreSystem {
	return &ScoreSystem{}
}

func (s *ScoreSystem) Signature() ecs.Signature { return 0 }

func (s *ScoreSystem) Init(w *ecs.World) {
	s.sub = ecs.Subscribe(w.Events(), func(ev ScoreEvent) {
		s.pending = append(s.pending, ev)
	})
}

func (s *ScoreSystem) Close() { s.sub.Release() }

func (s *ScoreSystem) Update(w *ecs.World, _ float64) {
	if len(s.pending) == 0 {
		return
	}
	ships := make(map[uint32]ecs.Entity)
	ecs.Components[PlayerTag](w).Each(func(e ecs.Entity, p *PlayerTag) {
		ships[p.ClientID] = e
	})
	for _, ev := range s.pending {
		e, ok := ships[ev.ClientID]
		if !ok {
			continue
		}
		if sc, ok := ecs.LookupComponent[Score](w, e); ok {
			sc.Points += ev.Points
		}
	}
	s.pending = s.pending[:0]
}
