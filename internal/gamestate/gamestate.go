package gamestate

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/squawktown/squawk/internal/player"
	"github.com/squawktown/squawk/internal/protocol"
	"github.com/squawktown/squawk/pkg/towngen"
)

// GameState holds all mutable shared state. Methods with the Locked suffix
// expect the caller to hold the lock, so one inbound message can apply
// several mutations and broadcast the result atomically.
type GameState struct {
	World      *towngen.World
	Players    *player.Manager
	Spawn      protocol.Vec3
	StartTime  time.Time
	npcs       map[string]*NPC
	groundHats map[protocol.ID]*GroundHat
	mu         sync.Mutex
}

type NPC struct {
	ID        string
	Position  protocol.Vec3
	RotationY float64
	Hat       *protocol.Hat
	Pooped    bool
	Pooper    *protocol.ID
}

type GroundHat struct {
	Position protocol.Vec3
	Hat      protocol.Hat
}

func New(world *towngen.World, spawn protocol.Vec3) *GameState {
	gs := &GameState{
		World:      world,
		Players:    player.NewManager(),
		Spawn:      spawn,
		StartTime:  time.Now(),
		npcs:       make(map[string]*NPC, len(world.NPCs)),
		groundHats: make(map[protocol.ID]*GroundHat),
	}

	for _, seed := range world.NPCs {
		npc := &NPC{
			ID:       seed.ID,
			Position: protocol.Vec3{X: seed.X, Y: seed.Y, Z: seed.Z},
		}
		if seed.Hat != nil {
			npc.Hat = &protocol.Hat{
				ID:     protocol.ID(seed.Hat.ID),
				Width:  seed.Hat.Width,
				Height: seed.Hat.Height,
				Depth:  seed.Hat.Depth,
				Color:  seed.Hat.Color,
			}
		}
		gs.npcs[seed.ID] = npc
	}

	return gs
}

func (gs *GameState) Lock() {
	gs.mu.Lock()
}

func (gs *GameState) Unlock() {
	gs.mu.Unlock()
}

func (gs *GameState) AddPlayerLocked(id string) *player.Player {
	p := player.New(id, gs.Spawn)
	gs.Players.Add(p)
	return p
}

// RemovePlayerLocked drops the player. A hat it was holding goes with it.
func (gs *GameState) RemovePlayerLocked(id string) (*player.Player, bool) {
	return gs.Players.Remove(id)
}

// ApplyPositionLocked overwrites position and yaw. A nil hat clears the held
// hat. Clients never echo hat ids, so an incoming hat keeps the id of the hat
// already held and can never claim any other id.
func (gs *GameState) ApplyPositionLocked(playerID string, pos protocol.Vec3, yaw float64, hat *protocol.Hat) bool {
	p, ok := gs.Players.Get(playerID)
	if !ok {
		return false
	}

	p.Position = pos
	p.Yaw = yaw

	if hat == nil {
		p.Hat = nil
		return true
	}

	held := *hat
	held.ID = p.HeldHatID()
	p.Hat = &held
	return true
}

func (gs *GameState) SetCustomizationLocked(playerID string, blob json.RawMessage) bool {
	p, ok := gs.Players.Get(playerID)
	if !ok {
		return false
	}
	p.Customization = append(json.RawMessage(nil), blob...)
	return true
}

// StealHatLocked moves an NPC's hat onto the player. It reports false when
// the NPC is unknown or bare-headed.
func (gs *GameState) StealHatLocked(playerID, npcID string) (protocol.Hat, bool) {
	p, ok := gs.Players.Get(playerID)
	if !ok {
		return protocol.Hat{}, false
	}
	npc, ok := gs.npcs[npcID]
	if !ok || npc.Hat == nil {
		return protocol.Hat{}, false
	}

	hat := *npc.Hat
	p.Hat = &hat
	npc.Hat = nil
	return hat, true
}

// DropHatLocked puts a hat on the ground under the given id and clears
// whatever the player was holding. An existing ground hat with the same id
// is replaced.
func (gs *GameState) DropHatLocked(playerID string, drop protocol.DropHat) bool {
	gs.groundHats[drop.ID] = &GroundHat{
		Position: drop.Position(),
		Hat:      drop.Hat(),
	}

	if p, ok := gs.Players.Get(playerID); ok {
		p.Hat = nil
	}
	return true
}

// PickHatLocked moves a ground hat onto the player. It reports false when no
// ground hat has that id.
func (gs *GameState) PickHatLocked(playerID string, hatID protocol.ID) (protocol.Hat, bool) {
	p, ok := gs.Players.Get(playerID)
	if !ok {
		return protocol.Hat{}, false
	}
	ground, ok := gs.groundHats[hatID]
	if !ok {
		return protocol.Hat{}, false
	}

	hat := ground.Hat
	hat.ID = hatID
	p.Hat = &hat
	delete(gs.groundHats, hatID)
	return hat, true
}

// PoopHitLocked marks an NPC as pooped on. It reports false for unknown NPCs.
func (gs *GameState) PoopHitLocked(npcID string, pooper protocol.ID) bool {
	npc, ok := gs.npcs[npcID]
	if !ok {
		return false
	}
	npc.Pooped = true
	id := pooper
	npc.Pooper = &id
	return true
}

func (gs *GameState) NPCLocked(id string) (NPC, bool) {
	npc, ok := gs.npcs[id]
	if !ok {
		return NPC{}, false
	}
	return *npc, true
}

func (gs *GameState) GroundHatLocked(id protocol.ID) (GroundHat, bool) {
	hat, ok := gs.groundHats[id]
	if !ok {
		return GroundHat{}, false
	}
	return *hat, true
}

func (gs *GameState) SnapshotLocked() protocol.Snapshot {
	snap := protocol.Snapshot{
		Players:    make(map[string]protocol.PlayerView, gs.Players.Count()),
		NPCs:       make(map[string]protocol.NPCView, len(gs.npcs)),
		GroundHats: make(map[protocol.ID]protocol.GroundHatView, len(gs.groundHats)),
	}

	gs.Players.ForEach(func(p *player.Player) {
		snap.Players[p.ID] = p.View()
	})

	for id, npc := range gs.npcs {
		view := protocol.NPCView{
			X:         npc.Position.X,
			Y:         npc.Position.Y,
			Z:         npc.Position.Z,
			RotationY: npc.RotationY,
			Pooped:    npc.Pooped,
		}
		if npc.Hat != nil {
			hat := *npc.Hat
			view.Hat = &hat
		}
		if npc.Pooper != nil {
			pooper := *npc.Pooper
			view.Pooper = &pooper
		}
		snap.NPCs[id] = view
	}

	for id, ground := range gs.groundHats {
		snap.GroundHats[id] = protocol.GroundHatView{
			X:      ground.Position.X,
			Y:      ground.Position.Y,
			Z:      ground.Position.Z,
			Width:  ground.Hat.Width,
			Height: ground.Hat.Height,
			Depth:  ground.Hat.Depth,
			Color:  ground.Hat.Color,
		}
	}

	return snap
}

type Stats struct {
	Players    int
	NPCs       int
	GroundHats int
	Buildings  int
	Uptime     time.Duration
}

func (gs *GameState) Stats() Stats {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	return Stats{
		Players:    gs.Players.Count(),
		NPCs:       len(gs.npcs),
		GroundHats: len(gs.groundHats),
		Buildings:  len(gs.World.Buildings),
		Uptime:     time.Since(gs.StartTime),
	}
}
