package game

import "rtype/internal/ecs"

func register[S ecs.System](w *ecs.World, build func() S) error {
	_, err := ecs.RegisterSystem(w, build)
	return err
}

// RegisterSystems attaches the gameplay systems to w in their execution
// order. Later systems rely on the effects of earlier ones within a tick:
// input, AI and spawning feed movement, movement feeds collision, and
// collision drives damage, death and score through events.
func RegisterSystems(w *ecs.World, a *Arena) error {
	steps := []func() error{
		func() error { return register(w, NewInputSystem) },
		func() error { return register(w, NewPatternSystem) },
		func() error { return register(w, func() *SpawnerSystem { return NewSpawnerSystem(a) }) },
		func() error { return register(w, func() *WeaponSystem { return NewWeaponSystem(a) }) },
		func() error { return register(w, NewMovementSystem) },
		func() error { return register(w, func() *FollowerSystem { return NewFollowerSystem(a) }) },
		func() error { return register(w, func() *BoundarySystem { return NewBoundarySystem(a) }) },
		func() error { return register(w, func() *LifetimeSystem { return NewLifetimeSystem(a) }) },
		func() error { return register(w, func() *CollisionSystem { return NewCollisionSystem(a) }) },
		func() error { return register(w, func() *DamageSystem { return NewDamageSystem(a) }) },
		func() error { return register(w, func() *DeathSystem { return NewDeathSystem(a) }) },
		func() error { return register(w, NewScoreSystem) },
		func() error { return register(w, NewAnimationSystem) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// CountPlayers returns the number of live player ships in w.
func CountPlayers(w *ecs.World) int {
	return ecs.Components[PlayerTag](w).Len()
}
