package player

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/squawktown/squawk/internal/protocol"
)

// Player is one connected seagull. Its fields are guarded by the game state
// lock, not by the manager.
type Player struct {
	ID            string
	Position      protocol.Vec3
	Yaw           float64
	Hat           *protocol.Hat
	Customization json.RawMessage
	ConnectedAt   time.Time
}

func New(id string, spawn protocol.Vec3) *Player {
	return &Player{
		ID:          id,
		Position:    spawn,
		ConnectedAt: time.Now(),
	}
}

func (p *Player) HasHat() bool {
	return p.Hat != nil
}

// HeldHatID returns the id of the held hat, or "" when bare-headed or the
// hat was never given one.
func (p *Player) HeldHatID() protocol.ID {
	if p.Hat == nil {
		return ""
	}
	return p.Hat.ID
}

func (p *Player) View() protocol.PlayerView {
	view := protocol.PlayerView{
		X:             p.Position.X,
		Y:             p.Position.Y,
		Z:             p.Position.Z,
		Yaw:           p.Yaw,
		Customization: p.Customization,
	}
	if p.Hat != nil {
		hat := *p.Hat
		view.Hat = &hat
	}
	return view
}

type Manager struct {
	players map[string]*Player
	nextID  atomic.Uint64
	mu      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		players: make(map[string]*Player),
	}
}

// NextID allocates a fresh player id. Ids are never reused for the lifetime
// of the manager.
func (m *Manager) NextID() string {
	return fmt.Sprintf("p%d", m.nextID.Add(1))
}

func (m *Manager) Add(player *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[player.ID] = player
}

func (m *Manager) Remove(id string) (*Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	player, ok := m.players[id]
	if ok {
		delete(m.players, id)
	}
	return player, ok
}

func (m *Manager) Get(id string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	player, ok := m.players[id]
	return player, ok
}

// GetAll returns the players ordered by allocation.
func (m *Manager) GetAll() []*Player {
	m.mu.RLock()
	players := make([]*Player, 0, len(m.players))
	for _, player := range m.players {
		players = append(players, player)
	}
	m.mu.RUnlock()

	sort.Slice(players, func(i, j int) bool {
		return idOrdinal(players[i].ID) < idOrdinal(players[j].ID)
	})
	return players
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

func (m *Manager) ForEach(fn func(*Player)) {
	for _, player := range m.GetAll() {
		fn(player)
	}
}

func idOrdinal(id string) uint64 {
	n, err := strconv.ParseUint(strings.TrimPrefix(id, "p"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
