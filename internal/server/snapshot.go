package server

import (
	"cmp"
	"slices"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"rtype/internal/ecs"
	"rtype/internal/game"
	"rtype/internal/network"
)

// snapshotOverhead covers the envelope header and the snapshot fields
// around the entity array.
const snapshotOverhead = network.HeaderSize + 128

// CaptureEntities serializes every entity with a NetworkID and a Transform,
// ordered by network id, and returns the set of ids it saw.
func CaptureEntities(w *ecs.World) ([]network.EntityState, map[uint32]struct{}) {
	required := ecs.MakeSignature(ecs.ComponentIDOf[game.NetworkID](), ecs.ComponentIDOf[game.Transform]())
	entities := w.Query(required)

	states := make([]network.EntityState, 0, len(entities))
	ids := make(map[uint32]struct{}, len(entities))
	for _, e := range entities {
		nid, _ := ecs.LookupComponent[game.NetworkID](w, e)
		tr, _ := ecs.LookupComponent[game.Transform](w, e)
		st := network.EntityState{
			ID: nid.ID,
			Transform: network.TransformState{
				X: tr.X, Y: tr.Y, Rotation: tr.Rotation, Scale: tr.Scale,
			},
		}
		if c, ok := ecs.LookupComponent[game.Collider](w, e); ok {
			st.Collider = &network.ColliderState{W: c.W, H: c.H}
		}
		if sp, ok := ecs.LookupComponent[game.Sprite](w, e); ok {
			st.Sprite = &network.SpriteState{Name: sp.Name, Frame: sp.Frame}
		}
		if h, ok := ecs.LookupComponent[game.Health](w, e); ok {
			st.Health = &network.HealthState{HP: h.HP, MaxHP: h.MaxHP}
		}
		if sc, ok := ecs.LookupComponent[game.Score](w, e); ok {
			st.Score = &network.ScoreState{Points: sc.Points}
		}
		if owner := ownerClient(w, e); owner != game.NoClient {
			st.OwnerClient = &owner
		}
		states = append(states, st)
		ids[nid.ID] = struct{}{}
	}
	slices.SortFunc(states, func(a, b network.EntityState) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return states, ids
}

func ownerClient(w *ecs.World, e ecs.Entity) uint32 {
	if p, ok := ecs.LookupComponent[game.PlayerTag](w, e); ok {
		return p.ClientID
	}
	if o, ok := ecs.LookupComponent[game.Owner](w, e); ok {
		return o.ClientID
	}
	return game.NoClient
}

// Destroyed returns the ids in prev that are missing from current, sorted.
func Destroyed(prev, current map[uint32]struct{}) []uint32 {
	var out []uint32
	for id := range prev {
		if _, ok := current[id]; !ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// EncodeSnapshot wraps a snapshot into one or more envelopes no larger than
// limit. The destroyed list travels in the first chunk.
func EncodeSnapshot(tick uint64, states []network.EntityState, destroyed []uint32, limit int) ([][]byte, error) {
	snap := network.Snapshot{Type: network.TypeSnapshot, Tick: tick, Entities: states, Destroyed: destroyed}
	if snap.Entities == nil {
		snap.Entities = []network.EntityState{}
	}
	whole, err := network.Marshal(snap)
	if err == nil && len(whole) <= limit {
		return [][]byte{whole}, nil
	}
	if err != nil && !eris.Is(err, network.ErrPayloadTooLarge) {
		return nil, err
	}

	chunks, err := splitStates(states, destroyed, limit)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		part := network.Snapshot{
			Type:     network.TypeSnapshot,
			Tick:     tick,
			Entities: chunk,
			Chunk:    i + 1,
			Chunks:   len(chunks),
		}
		if i == 0 {
			part.Destroyed = destroyed
		}
		buf, err := network.Marshal(part)
		if err != nil {
			return nil, err
		}
		if len(buf) > limit {
			return nil, eris.Wrapf(network.ErrPayloadTooLarge, "snapshot chunk %d is %d bytes", i+1, len(buf))
		}
		out = append(out, buf)
	}
	return out, nil
}

func splitStates(states []network.EntityState, destroyed []uint32, limit int) ([][]network.EntityState, error) {
	extra, err := json.Marshal(destroyed)
	if err != nil {
		return nil, eris.Wrap(err, "marshal destroyed ids")
	}
	budget := limit - snapshotOverhead - len(extra)
	if budget <= 0 {
		return nil, eris.Wrapf(network.ErrPayloadTooLarge, "%d destroyed ids", len(destroyed))
	}

	var (
		chunks  [][]network.EntityState
		current []network.EntityState
		used    int
	)
	for _, st := range states {
		data, err := json.Marshal(st)
		if err != nil {
			return nil, eris.Wrapf(err, "marshal entity %d", st.ID)
		}
		size := len(data) + 1
		if size > budget {
			return nil, eris.Wrapf(network.ErrPayloadTooLarge, "entity %d is %d bytes", st.ID, len(data))
		}
		if used+size > budget && len(current) > 0 {
			chunks = append(chunks, current)
			current, used = nil, 0
		}
		current = append(current, st)
		used += size
	}
	if len(current) > 0 || len(chunks) == 0 {
		if current == nil {
			current = []network.EntityState{}
		}
		chunks = append(chunks, current)
	}
	return chunks, nil
}
