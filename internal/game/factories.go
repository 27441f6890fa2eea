package game

import (
	"math"

	"rtype/internal/ecs"
)

// Tuning shared by factories and systems.
const (
	PlayerSpeed      = 300.0
	PlayerSpawnX     = 80.0
	PlayerFireDelay  = 0.2
	PlayerShotDamage = 10
	ShotSpeed        = 600.0
	EnemyShotSpeed   = 320.0
	ShotLifetime     = 3.0
	SpawnProtection  = 2.0
	HitProtection    = 0.75
	ContactDamage    = 25
	DroneOffsetX     = 36.0
	DroneFireDelay   = 0.6
	DroneShotDamage  = 4
)

// part attaches one component to a freshly created entity.
type part func(w *ecs.World, e ecs.Entity) error

func with[T any](v T) part {
	return func(w *ecs.World, e ecs.Entity) error {
		return ecs.AddComponent(w, e, v)
	}
}

// spawn creates an entity from parts. A half-built entity is destroyed
// before the error is returned.
func spawn(w *ecs.World, parts ...part) (ecs.Entity, error) {
	e, err := w.CreateEntity()
	if err != nil {
		return 0, err
	}
	for _, p := range parts {
		if err := p(w, e); err != nil {
			w.DestroyEntity(e)
			return 0, err
		}
	}
	return e, nil
}

// SpawnPlayer creates the ship for clientID together with its drone.
// slot spreads ships vertically.
func SpawnPlayer(w *ecs.World, a *Arena, clientID uint32, slot int) (ecs.Entity, error) {
	hp := PlayerHPForDifficulty(a.Difficulty)
	y := a.Height * float64(slot%4+1) / 5

	ship, err := spawn(w,
		with(Transform{X: PlayerSpawnX, Y: y, Scale: 1}),
		with(Velocity{}),
		with(Health{HP: hp, MaxHP: hp}),
		with(Collider{W: 32, H: 16}),
		with(Sprite{Name: "player", FrameCount: 5, FrameTime: 0.1, Loop: true}),
		with(NetworkID{ID: a.NextNetID()}),
		with(Input{}),
		with(PlayerTag{ClientID: clientID}),
		with(Owner{ClientID: clientID}),
		with(Score{}),
		with(Weapon{Cooldown: PlayerFireDelay, Damage: PlayerShotDamage, Speed: ShotSpeed}),
		with(Invulnerable{Remaining: SpawnProtection}),
	)
	if err != nil {
		return 0, err
	}
	if _, err := SpawnDrone(w, a, ship, clientID); err != nil {
		w.DestroyEntity(ship)
		return 0, err
	}
	return ship, nil
}

// SpawnDrone attaches an auto-firing pod in front of parent.
func SpawnDrone(w *ecs.World, a *Arena, parent ecs.Entity, clientID uint32) (ecs.Entity, error) {
	pt, err := ecs.GetComponent[Transform](w, parent)
	if err != nil {
		return 0, err
	}
	return spawn(w,
		with(Transform{X: pt.X + DroneOffsetX, Y: pt.Y, Scale: 1}),
		with(Sprite{Name: "drone", FrameCount: 4, FrameTime: 0.08, Loop: true}),
		with(NetworkID{ID: a.NextNetID()}),
		with(Owner{ClientID: clientID}),
		with(Follower{Parent: parent, OffsetX: DroneOffsetX}),
		with(Weapon{Cooldown: DroneFireDelay / a.AIStrength, Damage: DroneShotDamage, Speed: ShotSpeed, AutoFire: true}),
	)
}

// DespawnPlayer destroys ship together with everything following it, so no
// follower outlives its parent into a tick that recycles the handle.
func DespawnPlayer(w *ecs.World, ship ecs.Entity) {
	var followers []ecs.Entity
	ecs.Components[Follower](w).Each(func(e ecs.Entity, f *Follower) {
		if f.Parent == ship {
			followers = append(followers, e)
		}
	})
	for _, e := range followers {
		w.DestroyEntity(e)
	}
	w.DestroyEntity(ship)
}

type enemyStats struct {
	hp       int
	speed    float64
	score    int
	pattern  Pattern
	cooldown float64
	damage   int
}

func statsFor(kind EnemyKind) enemyStats {
	switch kind {
	case EnemyWaver:
		return enemyStats{hp: 30, speed: 90, score: 150, cooldown: 2.0, damage: 10,
			pattern: Pattern{Kind: PatternSine, Amplitude: 60, Frequency: 0.5}}
	case EnemyZigzag:
		return enemyStats{hp: 40, speed: 140, score: 250, cooldown: 1.2, damage: 15,
			pattern: Pattern{Kind: PatternZigzag, Amplitude: 80, Frequency: 0.8}}
	default:
		return enemyStats{hp: 20, speed: 120, score: 100,
			pattern: Pattern{Kind: PatternStraight}}
	}
}

// SpawnEnemy creates an enemy of kind at (x, y) scaled by the arena's
// difficulty and AI strength.
func SpawnEnemy(w *ecs.World, a *Arena, kind EnemyKind, x, y float64) (ecs.Entity, error) {
	st := statsFor(kind)
	hp := max(1, int(float64(st.hp)*enemyHPScale(a.Difficulty)))
	pat := st.pattern
	pat.Speed = st.speed * a.AIStrength
	pat.BaseY = y

	parts := []part{
		with(Transform{X: x, Y: y, Rotation: math.Pi, Scale: 1}),
		with(Velocity{X: -pat.Speed}),
		with(Health{HP: hp, MaxHP: hp}),
		with(Collider{W: 28, H: 24}),
		with(Sprite{Name: "enemy_" + kind.String(), FrameCount: 8, FrameTime: 0.12, Loop: true}),
		with(NetworkID{ID: a.NextNetID()}),
		with(EnemyTag{Kind: kind, ScoreValue: st.score}),
		with(pat),
	}
	if st.cooldown > 0 {
		cd := st.cooldown / a.AIStrength
		parts = append(parts, with(Weapon{
			Cooldown: cd,
			Timer:    a.Rand().Float64() * cd,
			Damage:   st.damage,
			Speed:    EnemyShotSpeed,
			AutoFire: true,
		}))
	}
	return spawn(w, parts...)
}

// SpawnProjectile fires a shot. Player shots travel right, enemy shots left.
func SpawnProjectile(w *ecs.World, a *Arena, x, y float64, speed float64, damage int, owner uint32) (ecs.Entity, error) {
	fromPlayer := owner != NoClient
	vx, name := -speed, "enemy_shot"
	if fromPlayer {
		vx, name = speed, "shot"
	}
	return spawn(w,
		with(Transform{X: x, Y: y, Scale: 1}),
		with(Velocity{X: vx}),
		with(Collider{W: 8, H: 4}),
		with(Sprite{Name: name, FrameCount: 2, FrameTime: 0.05, Loop: true}),
		with(NetworkID{ID: a.NextNetID()}),
		with(Owner{ClientID: owner}),
		with(Projectile{Damage: damage, FromPlayer: fromPlayer}),
		with(Lifetime{Remaining: ShotLifetime}),
	)
}
