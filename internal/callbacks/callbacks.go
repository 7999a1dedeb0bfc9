package callbacks

import (
	"github.com/squawktown/squawk/internal/player"
	"github.com/squawktown/squawk/internal/protocol"
)

// Callbacks are invoked while the game state lock is held and must not block.
type Callbacks interface {
	OnConnect(p *player.Player)
	OnDisconnect(playerID string)
	// OnChatMessage may rewrite the message. Returning false suppresses it.
	OnChatMessage(p *player.Player, message string) (string, bool)
	OnStealHat(p *player.Player, npcID string, hat protocol.Hat)
	OnDropHat(p *player.Player, hatID protocol.ID)
	OnPickHat(p *player.Player, hatID protocol.ID)
	OnPoopHit(npcID string, pooper protocol.ID)
}

type DefaultCallbacks struct{}

func (d *DefaultCallbacks) OnConnect(p *player.Player)   {}
func (d *DefaultCallbacks) OnDisconnect(playerID string) {}
func (d *DefaultCallbacks) OnChatMessage(p *player.Player, message string) (string, bool) {
	return message, true
}
func (d *DefaultCallbacks) OnStealHat(p *player.Player, npcID string, hat protocol.Hat) {}
func (d *DefaultCallbacks) OnDropHat(p *player.Player, hatID protocol.ID)               {}
func (d *DefaultCallbacks) OnPickHat(p *player.Player, hatID protocol.ID)               {}
func (d *DefaultCallbacks) OnPoopHit(npcID string, pooper protocol.ID)                  {}

type CallbackChain struct {
	callbacks []Callbacks
}

func NewCallbackChain() *CallbackChain {
	return &CallbackChain{
		callbacks: make([]Callbacks, 0),
	}
}

func (c *CallbackChain) Register(cb Callbacks) {
	c.callbacks = append(c.callbacks, cb)
}

func (c *CallbackChain) Len() int {
	return len(c.callbacks)
}

func (c *CallbackChain) OnConnect(p *player.Player) {
	for _, cb := range c.callbacks {
		cb.OnConnect(p)
	}
}

func (c *CallbackChain) OnDisconnect(playerID string) {
	for _, cb := range c.callbacks {
		cb.OnDisconnect(playerID)
	}
}

// OnChatMessage threads the message through every callback in order; the
// first one to refuse stops the chain.
func (c *CallbackChain) OnChatMessage(p *player.Player, message string) (string, bool) {
	for _, cb := range c.callbacks {
		var ok bool
		message, ok = cb.OnChatMessage(p, message)
		if !ok {
			return "", false
		}
	}
	return message, true
}

func (c *CallbackChain) OnStealHat(p *player.Player, npcID string, hat protocol.Hat) {
	for _, cb := range c.callbacks {
		cb.OnStealHat(p, npcID, hat)
	}
}

func (c *CallbackChain) OnDropHat(p *player.Player, hatID protocol.ID) {
	for _, cb := range c.callbacks {
		cb.OnDropHat(p, hatID)
	}
}

func (c *CallbackChain) OnPickHat(p *player.Player, hatID protocol.ID) {
	for _, cb := range c.callbacks {
		cb.OnPickHat(p, hatID)
	}
}

func (c *CallbackChain) OnPoopHit(npcID string, pooper protocol.ID) {
	for _, cb := range c.callbacks {
		cb.OnPoopHit(npcID, pooper)
	}
}
