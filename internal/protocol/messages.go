package protocol

import (
	"encoding/json"
	"fmt"
)

// Handshake is the first frame a connection receives.
type Handshake struct {
	ID    string          `json:"id"`
	World json.RawMessage `json:"world"`
}

type JoinEvent struct {
	Join string `json:"join"`
}

type PoopEvent struct {
	Poop json.RawMessage `json:"poop"`
}

type DiarrheaEvent struct {
	Diarrhea json.RawMessage `json:"diarrhea"`
}

type ChatEvent struct {
	Chat string `json:"chat"`
}

func NewChatEvent(playerID, text string) ChatEvent {
	return ChatEvent{Chat: fmt.Sprintf("Player %s: %s", playerID, text)}
}

type PlayerView struct {
	X             float64         `json:"x"`
	Y             float64         `json:"y"`
	Z             float64         `json:"z"`
	Yaw           float64         `json:"yaw"`
	Hat           *Hat            `json:"hat,omitempty"`
	Customization json.RawMessage `json:"customization,omitempty"`
}

// NPCView exposes only what clients render. Hat and pooper are null when
// unset.
type NPCView struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	RotationY float64 `json:"rotationY"`
	Hat       *Hat    `json:"hat"`
	Pooped    bool    `json:"pooped"`
	Pooper    *ID     `json:"pooper"`
}

type GroundHatView struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
	Color  int     `json:"color"`
}

type Snapshot struct {
	Players    map[string]PlayerView `json:"players"`
	NPCs       map[string]NPCView    `json:"npcs"`
	GroundHats map[ID]GroundHatView  `json:"groundHats"`
}

func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return data, nil
}
