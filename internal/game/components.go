package game

import "rtype/internal/ecs"

// NoClient marks an entity that is not owned by any connected client.
// Client IDs handed out by the transport start at 1.
const NoClient uint32 = 0

// Transform is position, rotation (radians) and uniform scale.
type Transform struct {
	X, Y     float64
	Rotation float64
	Scale    float64
}

// Velocity is in world units per second.
type Velocity struct {
	X, Y float64
}

type Health struct {
	HP    int
	MaxHP int
}

// Alive reports whether the owner still has hit points left.
func (h Health) Alive() bool { return h.HP > 0 }

// Collider is an axis-aligned box centered on the Transform.
type Collider struct {
	W, H float64
}

// Sprite carries animation state the renderer interprets.
type Sprite struct {
	Name       string
	Frame      int
	FrameCount int
	FrameTime  float64 // seconds per frame
	Elapsed    float64
	Loop       bool
}

// NetworkID is the replication identity sent to clients. It is never reused
// within a lobby, unlike entity handles.
type NetworkID struct {
	ID uint32
}

// Input is the latest control state reported by a player's client.
type Input struct {
	Up, Down, Left, Right bool
	Shoot                 bool
}

type PlayerTag struct {
	ClientID uint32
}

// Owner links spawned entities (projectiles, turrets) to the client that
// caused them, for scoring and snapshot attribution.
type Owner struct {
	ClientID uint32
}

type Score struct {
	Points int
}

// EnemyKind selects enemy stats and default movement.
type EnemyKind uint8

const (
	EnemyGrunt  EnemyKind = iota // Straight line, no weapon
	EnemyWaver                   // Sine wave, slow fire
	EnemyZigzag                  // Zigzag, fast fire
)

func (k EnemyKind) String() string {
	switch k {
	case EnemyGrunt:
		return "grunt"
	case EnemyWaver:
		return "waver"
	case EnemyZigzag:
		return "zigzag"
	default:
		return "unknown"
	}
}

type EnemyTag struct {
	Kind       EnemyKind
	ScoreValue int
}

// PatternKind selects how the pattern system drives Velocity.
type PatternKind uint8

const (
	PatternStraight PatternKind = iota
	PatternSine
	PatternZigzag
)

// Pattern parameterizes scripted AI movement. BaseY is captured at spawn.
type Pattern struct {
	Kind      PatternKind
	Amplitude float64
	Frequency float64
	Speed     float64
	Elapsed   float64
	BaseY     float64
}

type Projectile struct {
	Damage     int
	FromPlayer bool
}

// Lifetime destroys its entity once Remaining drops to zero.
type Lifetime struct {
	Remaining float64
}

// Follower keeps an entity pinned to Parent at a fixed offset. If Parent
// dies, the follower is destroyed.
type Follower struct {
	Parent           ecs.Entity
	OffsetX, OffsetY float64
}

// Weapon fires projectiles. Players fire while Input.Shoot is held;
// entities with AutoFire fire whenever the cooldown allows.
type Weapon struct {
	Cooldown float64
	Timer    float64
	Damage   int
	Speed    float64
	AutoFire bool
}

// Invulnerable suppresses incoming damage while Remaining > 0.
type Invulnerable struct {
	Remaining float64
}

// RegisterComponents assigns component ids in a fixed order. Call it once at
// process start so ids do not depend on which code path touches a type first.
func RegisterComponents() error {
	for _, register := range []func() (ecs.ComponentID, error){
		ecs.RegisterComponent[Transform],
		ecs.RegisterComponent[Velocity],
		ecs.RegisterComponent[Health],
		ecs.RegisterComponent[Collider],
		ecs.RegisterComponent[Sprite],
		ecs.RegisterComponent[NetworkID],
		ecs.RegisterComponent[Input],
		ecs.RegisterComponent[PlayerTag],
		ecs.RegisterComponent[Owner],
		ecs.RegisterComponent[Score],
		ecs.RegisterComponent[EnemyTag],
		ecs.RegisterComponent[Pattern],
		ecs.RegisterComponent[Projectile],
		ecs.RegisterComponent[Lifetime],
		ecs.RegisterComponent[Follower],
		ecs.RegisterComponent[Weapon],
		ecs.RegisterComponent[Invulnerable],
	} {
		if _, err := register(); err != nil {
			return err
		}
	}
	return nil
}
