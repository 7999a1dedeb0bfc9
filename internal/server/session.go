package server

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/squawktown/squawk/internal/network"
	"github.com/squawktown/squawk/internal/player"
	"github.com/squawktown/squawk/internal/protocol"
	"github.com/squawktown/squawk/pkg/config"
)

// OnConnect registers a player for the new connection, sends it the world
// and announces it to everyone else.
func (s *Server) OnConnect(c *network.Conn) {
	s.gameState.Lock()
	defer s.gameState.Unlock()

	id := s.gameState.Players.NextID()
	c.SetID(id)
	p := s.gameState.AddPlayerLocked(id)

	handshake, err := protocol.Marshal(protocol.Handshake{ID: id, World: s.worldJSON})
	if err != nil {
		s.logger.Error("failed to build handshake", "player", id, "error", err)
		c.CloseWithReason(websocket.CloseInternalServerErr, "handshake failed")
		return
	}
	if err := c.Send(handshake); err != nil {
		s.logger.Warn("failed to send handshake", "player", id, "error", err)
	}

	// handshake is queued first, so later broadcasts can't overtake it
	c.Activate()

	s.broadcastEvent(protocol.JoinEvent{Join: id}, c)
	s.callbacks.OnConnect(p)

	s.logger.Info("player connected", "player", id, "remote", c.RemoteAddr())
}

func (s *Server) OnDisconnect(c *network.Conn) {
	id := c.ID()
	if id == "" {
		return
	}

	s.gameState.Lock()
	defer s.gameState.Unlock()

	p, ok := s.gameState.RemovePlayerLocked(id)
	if !ok {
		return
	}
	if p.HasHat() {
		s.logger.Debug("held hat left with its player", "player", id, "hat", p.HeldHatID())
	}

	s.callbacks.OnDisconnect(id)
	s.broadcastSnapshot(nil)

	s.logger.Info("player disconnected", "player", id)
}

func (s *Server) OnMessage(c *network.Conn, data []byte) {
	id := c.ID()

	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		s.handleMalformed(c, err)
		return
	}

	// transfers the sender already applied are never dropped or counted
	if !msg.TransfersOwnership() && c.Throttle() {
		return
	}

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "message received",
		slog.String("player", id),
		slog.Int("bytes", len(data)))

	s.gameState.Lock()
	defer s.gameState.Unlock()

	p, ok := s.gameState.Players.Get(id)
	if !ok {
		return
	}

	s.applyMessage(c, p, msg)
}

func (s *Server) handleMalformed(c *network.Conn, err error) {
	if s.config.Protocol.MalformedPolicy == config.MalformedSkip {
		if c.Throttle() {
			return
		}
		s.logger.Warn("skipping malformed message", "player", c.ID(), "error", err)
		return
	}

	s.logger.Warn("disconnecting client for malformed message", "player", c.ID(), "error", err)
	c.CloseWithReason(websocket.ClosePolicyViolation, "malformed message")
}

// applyMessage runs every action the message carries, in a fixed order, and
// finishes with a snapshot for everyone but the sender. The caller holds the
// game lock.
func (s *Server) applyMessage(c *network.Conn, p *player.Player, msg *protocol.ClientMessage) {
	if msg.Position != nil {
		s.gameState.ApplyPositionLocked(p.ID, *msg.Position, msg.Yaw, msg.Hat)
	}

	if msg.Customization != nil {
		s.gameState.SetCustomizationLocked(p.ID, msg.Customization)
	}

	if msg.Poop != nil {
		s.broadcastEvent(protocol.PoopEvent{Poop: msg.Poop}, nil)
	}

	if msg.Diarrhea != nil {
		s.broadcastEvent(protocol.DiarrheaEvent{Diarrhea: msg.Diarrhea}, nil)
	}

	if msg.StealHat != nil {
		npcID := string(msg.StealHat.NpcID)
		if hat, ok := s.gameState.StealHatLocked(p.ID, npcID); ok {
			s.logger.Debug("hat stolen", "player", p.ID, "npc", npcID, "hat", hat.ID)
			s.callbacks.OnStealHat(p, npcID, hat)
			s.broadcastSnapshot(nil)
		}
	}

	if msg.DropHat != nil {
		s.gameState.DropHatLocked(p.ID, *msg.DropHat)
		s.callbacks.OnDropHat(p, msg.DropHat.ID)
		s.broadcastSnapshot(nil)
	}

	if msg.PickHat != nil {
		if _, ok := s.gameState.PickHatLocked(p.ID, msg.PickHat.HatID); ok {
			s.callbacks.OnPickHat(p, msg.PickHat.HatID)
			s.broadcastSnapshot(nil)
		}
	}

	if msg.PoopHit != nil {
		npcID := string(msg.PoopHit.NpcID)
		if s.gameState.PoopHitLocked(npcID, msg.PoopHit.Pooper) {
			s.callbacks.OnPoopHit(npcID, msg.PoopHit.Pooper)
			s.broadcastSnapshot(nil)
		}
	}

	if msg.Chat != nil {
		s.handleChat(c, p, *msg.Chat)
	}

	s.broadcastSnapshot(c)
}

func (s *Server) handleChat(c *network.Conn, p *player.Player, text string) {
	message := protocol.SanitizeChat(text, s.config.Protocol.ChatMaxLength)
	if message == "" {
		return
	}

	if s.handleCommand(c, p, message) {
		return
	}

	message, ok := s.callbacks.OnChatMessage(p, message)
	if !ok {
		s.logger.Debug("chat suppressed by hooks", "player", p.ID)
		return
	}

	s.logger.Info("chat message", "player", p.ID, "message", message)
	s.broadcastEvent(protocol.NewChatEvent(p.ID, message), nil)
}

func (s *Server) broadcastEvent(event any, except *network.Conn) {
	data, err := protocol.Marshal(event)
	if err != nil {
		s.logger.Error("failed to serialize event", "error", err)
		return
	}
	s.network.Broadcast(data, except)
}

// broadcastSnapshot must be called with the game lock held so snapshots go
// out in mutation order.
func (s *Server) broadcastSnapshot(except *network.Conn) {
	data, err := protocol.Marshal(s.gameState.SnapshotLocked())
	if err != nil {
		s.logger.Error("failed to serialize snapshot", "error", err)
		return
	}
	s.network.Broadcast(data, except)
}
