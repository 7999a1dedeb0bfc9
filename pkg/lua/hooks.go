package lua

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/squawktown/squawk/internal/callbacks"
	"github.com/squawktown/squawk/internal/player"
	"github.com/squawktown/squawk/internal/protocol"
)

// ScriptHooks runs optional global Lua functions on server events:
//
//	on_join(id)  on_leave(id)  on_chat(id, text)
//	on_steal_hat(id, npc_id, color)  on_drop_hat(id, hat_id)
//	on_pick_hat(id, hat_id)  on_poop_hit(npc_id, pooper)
//
// on_chat may return a replacement string, or false to suppress the message.
type ScriptHooks struct {
	vm     *VM
	name   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ callbacks.Callbacks = (*ScriptHooks)(nil)

func NewScriptHooks(scriptPath string, api *GameAPI, logger *slog.Logger) (*ScriptHooks, error) {
	vm := NewVM()
	if api != nil {
		api.RegisterFunctions(vm)
	}
	if err := vm.LoadFile(scriptPath); err != nil {
		return nil, fmt.Errorf("failed to load hook script: %w", err)
	}
	return newScriptHooks(vm, logger)
}

// NewScriptHooksFromString is NewScriptHooks for inline code.
func NewScriptHooksFromString(code string, api *GameAPI, logger *slog.Logger) (*ScriptHooks, error) {
	vm := NewVM()
	if api != nil {
		api.RegisterFunctions(vm)
	}
	if err := vm.LoadString(code); err != nil {
		return nil, fmt.Errorf("failed to load hook script: %w", err)
	}
	return newScriptHooks(vm, logger)
}

func newScriptHooks(vm *VM, logger *slog.Logger) (*ScriptHooks, error) {
	if logger == nil {
		logger = slog.Default()
	}

	name, err := vm.GetGlobalString("name")
	if err != nil {
		name = "hooks"
	}

	h := &ScriptHooks{
		vm:     vm,
		name:   name,
		logger: logger,
	}

	if vm.HasFunction("on_init") {
		if err := vm.CallFunction("on_init"); err != nil {
			return nil, fmt.Errorf("failed to call on_init: %w", err)
		}
	}

	return h, nil
}

func (h *ScriptHooks) Name() string {
	return h.name
}

func (h *ScriptHooks) call(fn string, args ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.vm.HasFunction(fn) {
		return
	}
	if err := h.vm.CallFunction(fn, args...); err != nil {
		h.logger.Error("lua hook error", "hook", fn, "error", err)
	}
}

func (h *ScriptHooks) OnConnect(p *player.Player) {
	h.call("on_join", p.ID)
}

func (h *ScriptHooks) OnDisconnect(playerID string) {
	h.call("on_leave", playerID)
}

func (h *ScriptHooks) OnChatMessage(p *player.Player, message string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.vm.HasFunction("on_chat") {
		return message, true
	}

	results, err := h.vm.CallFunctionWithReturn("on_chat", 1, p.ID, message)
	if err != nil {
		h.logger.Error("lua hook error", "hook", "on_chat", "error", err)
		return message, true
	}

	switch v := results[0].(type) {
	case bool:
		if !v {
			return "", false
		}
	case string:
		return v, true
	}
	return message, true
}

func (h *ScriptHooks) OnStealHat(p *player.Player, npcID string, hat protocol.Hat) {
	h.call("on_steal_hat", p.ID, npcID, hat.Color)
}

func (h *ScriptHooks) OnDropHat(p *player.Player, hatID protocol.ID) {
	h.call("on_drop_hat", p.ID, string(hatID))
}

func (h *ScriptHooks) OnPickHat(p *player.Player, hatID protocol.ID) {
	h.call("on_pick_hat", p.ID, string(hatID))
}

func (h *ScriptHooks) OnPoopHit(npcID string, pooper protocol.ID) {
	h.call("on_poop_hit", npcID, string(pooper))
}
