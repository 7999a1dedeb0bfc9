package lua

import (
	"log/slog"
	"math"
	"time"

	"github.com/squawktown/squawk/internal/player"

	"github.com/Shopify/go-lua"
)

type ServerInterface interface {
	BroadcastChat(message string)
	GetServerName() string
	GetUptime() time.Duration
}

// GameAPI exposes server state to scripts. Scripts only run from hooks, which
// are called with the game state lock held, so player fields are read
// directly.
type GameAPI struct {
	players *player.Manager
	server  ServerInterface
	logger  *slog.Logger
}

func NewGameAPI(players *player.Manager, logger *slog.Logger) *GameAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &GameAPI{
		players: players,
		logger:  logger,
	}
}

func (api *GameAPI) SetServer(srv ServerInterface) {
	api.server = srv
}

func (api *GameAPI) RegisterFunctions(vm *VM) {
	state := vm.State()

	state.Register("log", api.log)
	state.Register("get_player_count", api.getPlayerCount)
	state.Register("get_player", api.getPlayer)
	state.Register("broadcast_chat", api.broadcastChat)
	state.Register("get_server_name", api.getServerName)
	state.Register("get_server_time", api.getServerTime)
	state.Register("distance_3d", api.distance3D)
}

func (api *GameAPI) log(state *lua.State) int {
	msg, _ := state.ToString(1)
	api.logger.Info("script", "message", msg)
	return 0
}

func (api *GameAPI) getPlayerCount(state *lua.State) int {
	count := 0
	if api.players != nil {
		count = api.players.Count()
	}
	state.PushInteger(count)
	return 1
}

func (api *GameAPI) getPlayer(state *lua.State) int {
	id, _ := state.ToString(1)
	if api.players == nil {
		state.PushNil()
		return 1
	}
	p, _ := api.players.Get(id)
	pushPlayerTable(state, p)
	return 1
}

func pushPlayerTable(state *lua.State, p *player.Player) {
	if p == nil {
		state.PushNil()
		return
	}

	state.NewTable()
	state.PushString(p.ID)
	state.SetField(-2, "id")
	state.PushNumber(p.Position.X)
	state.SetField(-2, "x")
	state.PushNumber(p.Position.Y)
	state.SetField(-2, "y")
	state.PushNumber(p.Position.Z)
	state.SetField(-2, "z")
	state.PushNumber(p.Yaw)
	state.SetField(-2, "yaw")
	state.PushBoolean(p.HasHat())
	state.SetField(-2, "has_hat")
}

func (api *GameAPI) broadcastChat(state *lua.State) int {
	msg, _ := state.ToString(1)
	if api.server != nil && msg != "" {
		api.server.BroadcastChat(msg)
	}
	return 0
}

func (api *GameAPI) getServerName(state *lua.State) int {
	name := ""
	if api.server != nil {
		name = api.server.GetServerName()
	}
	state.PushString(name)
	return 1
}

func (api *GameAPI) getServerTime(state *lua.State) int {
	var uptime time.Duration
	if api.server != nil {
		uptime = api.server.GetUptime()
	}
	state.PushNumber(uptime.Seconds())
	return 1
}

func (api *GameAPI) distance3D(state *lua.State) int {
	x1, _ := state.ToNumber(1)
	y1, _ := state.ToNumber(2)
	z1, _ := state.ToNumber(3)
	x2, _ := state.ToNumber(4)
	y2, _ := state.ToNumber(5)
	z2, _ := state.ToNumber(6)

	dx, dy, dz := x2-x1, y2-y1, z2-z1
	state.PushNumber(math.Sqrt(dx*dx + dy*dy + dz*dz))
	return 1
}
