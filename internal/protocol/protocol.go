package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks an inbound message whose present keys are missing
// required sub-keys or carry the wrong JSON type.
var ErrMalformed = errors.New("malformed message")

const (
	KeyPosition      = "position"
	KeyYaw           = "yaw"
	KeyHat           = "hat"
	KeyCustomization = "customization"
	KeyPoop          = "poop"
	KeyDiarrhea      = "diarrhea"
	KeyStealHat      = "stealHat"
	KeyDropHat       = "dropHat"
	KeyPickHat       = "pickHat"
	KeyPoopHit       = "poopHit"
	KeyChat          = "chat"
)

// ID is an entity identifier. Clients send hat ids as JSON numbers and read
// them back as object keys, so numbers are kept as their literal text.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Hat struct {
	ID     ID      `json:"id,omitempty"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
	Color  int     `json:"color"`
}

type StealHat struct {
	NpcID ID `json:"npcId"`
}

type DropHat struct {
	ID     ID      `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
	Color  int     `json:"color"`
}

func (d *DropHat) Position() Vec3 {
	return Vec3{X: d.X, Y: d.Y, Z: d.Z}
}

func (d *DropHat) Hat() Hat {
	return Hat{ID: d.ID, Width: d.Width, Height: d.Height, Depth: d.Depth, Color: d.Color}
}

type PickHat struct {
	HatID ID `json:"hatId"`
}

type PoopHit struct {
	NpcID  ID `json:"npcId"`
	Pooper ID `json:"pooper"`
}

// ClientMessage is one decoded inbound frame. A nil field was absent (or
// null) and carries no action. Poop and Diarrhea are nil only when absent.
type ClientMessage struct {
	Position      *Vec3
	Yaw           float64
	Hat           *Hat
	Customization json.RawMessage
	Poop          json.RawMessage
	Diarrhea      json.RawMessage
	StealHat      *StealHat
	DropHat       *DropHat
	PickHat       *PickHat
	PoopHit       *PoopHit
	Chat          *string
}

// TransfersOwnership reports whether the message moves a hat or marks an NPC
// as pooped. The sender has already applied these locally.
func (m *ClientMessage) TransfersOwnership() bool {
	return m.StealHat != nil || m.DropHat != nil || m.PickHat != nil || m.PoopHit != nil
}

// ParseClientMessage decodes an inbound frame. Every present key is checked
// for its required sub-keys; unknown keys are ignored.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: message is null", ErrMalformed)
	}

	msg := &ClientMessage{}

	if present(fields, KeyPosition) {
		msg.Position = &Vec3{}
		if err := decodeField(fields, KeyPosition, msg.Position, "x", "y", "z"); err != nil {
			return nil, err
		}
		if present(fields, KeyYaw) {
			if err := decodeField(fields, KeyYaw, &msg.Yaw); err != nil {
				return nil, err
			}
		}
		if present(fields, KeyHat) {
			msg.Hat = &Hat{}
			if err := decodeField(fields, KeyHat, msg.Hat); err != nil {
				return nil, err
			}
		}
	}

	if present(fields, KeyCustomization) {
		msg.Customization = fields[KeyCustomization]
	}
	// poop and diarrhea are relayed as sent, null included
	if raw, ok := fields[KeyPoop]; ok {
		msg.Poop = raw
	}
	if raw, ok := fields[KeyDiarrhea]; ok {
		msg.Diarrhea = raw
	}

	if present(fields, KeyStealHat) {
		msg.StealHat = &StealHat{}
		if err := decodeField(fields, KeyStealHat, msg.StealHat, "npcId"); err != nil {
			return nil, err
		}
	}

	if present(fields, KeyDropHat) {
		msg.DropHat = &DropHat{}
		if err := decodeField(fields, KeyDropHat, msg.DropHat,
			"id", "x", "y", "z", "width", "height", "depth", "color"); err != nil {
			return nil, err
		}
	}

	if present(fields, KeyPickHat) {
		msg.PickHat = &PickHat{}
		if err := decodeField(fields, KeyPickHat, msg.PickHat, "hatId"); err != nil {
			return nil, err
		}
	}

	if present(fields, KeyPoopHit) {
		msg.PoopHit = &PoopHit{}
		if err := decodeField(fields, KeyPoopHit, msg.PoopHit, "npcId", "pooper"); err != nil {
			return nil, err
		}
	}

	if present(fields, KeyChat) {
		var chat string
		if err := decodeField(fields, KeyChat, &chat); err != nil {
			return nil, err
		}
		msg.Chat = &chat
	}

	return msg, nil
}

func present(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeField(fields map[string]json.RawMessage, key string, dst any, required ...string) error {
	raw := fields[key]

	if len(required) > 0 {
		var sub map[string]json.RawMessage
		if err := json.Unmarshal(raw, &sub); err != nil || sub == nil {
			return fmt.Errorf("%w: %s must be an object", ErrMalformed, key)
		}
		for _, name := range required {
			if !present(sub, name) {
				return fmt.Errorf("%w: %s.%s is required", ErrMalformed, key, name)
			}
		}
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return nil
}
