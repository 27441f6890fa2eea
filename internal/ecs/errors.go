package ecs

import "github.com/rotisserie/eris"

var (
	// ErrEntityLimit is returned by CreateEntity when the live-entity bound is reached.
	ErrEntityLimit = eris.New("ecs: entity limit reached")

	// ErrEntityNotAlive is returned for signature or component access on a dead or unknown entity.
	ErrEntityNotAlive = eris.New("ecs: entity is not alive")

	// ErrComponentNotFound is returned by Get when the entity does not hold the component.
	ErrComponentNotFound = eris.New("ecs: component not found")

	// ErrTooManyComponents is returned when more than MaxComponents types are registered.
	ErrTooManyComponents = eris.New("ecs: too many component types")

	// ErrSystemsUpdating is returned when the system list is mutated from inside Update.
	ErrSystemsUpdating = eris.New("ecs: systems are updating")

	// ErrSystemNotFound is returned by RemoveSystem for an unregistered system type.
	ErrSystemNotFound = eris.New("ecs: system not registered")
)
