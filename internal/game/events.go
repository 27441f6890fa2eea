package game

import "rtype/internal/ecs"

// CollisionEvent reports two overlapping colliders. A < B by handle.
type CollisionEvent struct {
	A, B ecs.Entity
}

// DamageEvent is emitted after HP has been reduced.
type DamageEvent struct {
	Target ecs.Entity
	Source ecs.Entity
	Amount int
	HP     int
}

// DeathEvent is emitted once per entity when its HP reaches zero.
// Victim is the owning client when a player died, Killer the client
// credited with the kill. Either may be NoClient.
type DeathEvent struct {
	Entity ecs.Entity
	NetID  uint32
	Victim uint32
	Killer uint32
}

// ScoreEvent awards points to a client.
type ScoreEvent struct {
	ClientID uint32
	Points   int
}

// SpawnRequestEvent asks the spawner to create an enemy at (X, Y).
type SpawnRequestEvent struct {
	Kind EnemyKind
	X, Y float64
}

// PlayerInputEvent carries a client's control state into the world.
type PlayerInputEvent struct {
	ClientID uint32
	Entity   ecs.Entity
	Input    Input
}
