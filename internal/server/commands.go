package server

import (
	"fmt"
	"strings"

	"github.com/squawktown/squawk/internal/network"
	"github.com/squawktown/squawk/internal/player"
	"github.com/squawktown/squawk/internal/protocol"
)

// handleCommand runs a "/name args" chat line as a script command and replies
// to the sender alone. It reports false when the line is ordinary chat.
func (s *Server) handleCommand(c *network.Conn, p *player.Player, message string) bool {
	if s.commands == nil || !strings.HasPrefix(message, "/") {
		return false
	}

	parts := strings.Fields(message[1:])
	if len(parts) == 0 {
		return false
	}
	name, args := strings.ToLower(parts[0]), parts[1:]

	if name == "help" {
		s.sendChat(c, s.helpText())
		return true
	}

	reply, err := s.commands.Execute(p, name, args)
	if err != nil {
		s.logger.Debug("command failed", "player", p.ID, "command", name, "error", err)
		s.sendChat(c, err.Error())
		return true
	}

	s.logger.Info("command executed", "player", p.ID, "command", name)
	if reply != "" {
		s.sendChat(c, reply)
	}
	return true
}

func (s *Server) helpText() string {
	commands := s.commands.List()
	if len(commands) == 0 {
		return "no commands available"
	}

	lines := make([]string, 0, len(commands))
	for _, cmd := range commands {
		line := "/" + cmd.Name
		if cmd.Usage != "" {
			line = cmd.Usage
		}
		if cmd.Description != "" {
			line = fmt.Sprintf("%s - %s", line, cmd.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (s *Server) sendChat(c *network.Conn, message string) {
	data, err := protocol.Marshal(protocol.ChatEvent{Chat: message})
	if err != nil {
		s.logger.Error("failed to serialize chat", "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		s.logger.Debug("failed to send chat", "player", c.ID(), "error", err)
	}
}
