package protocol

import (
	"encoding/json"
	"fmt"
	"math"
)

type envelope struct {
	Type string `json:"type"`
}

// ParseServerMessage decodes a relay → client payload.
// Callers on the client side drop anything that returns an error.
func ParseServerMessage(raw []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch env.Type {
	case TypeFrame:
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if !f.Status.Valid() {
			return nil, fmt.Errorf("invalid status %q in %s", f.Status, env.Type)
		}
		return &f, nil

	case TypeComplete:
		var c Complete
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if c.Schedule == nil {
			return nil, fmt.Errorf("missing required field 'schedule' in %s", env.Type)
		}
		return &c, nil

	case TypeError:
		var e Error
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		return &e, nil

	case "":
		return nil, fmt.Errorf("missing 'type' field")
	}
	return nil, fmt.Errorf("unknown message type: %s", env.Type)
}

// ParseCommand decodes and validates a client → relay payload.
// Click coordinates are clamped into [0,1].
func ParseCommand(raw []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch env.Type {
	case TypeClick:
		var c Click
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if math.IsNaN(c.X) || math.IsNaN(c.Y) {
			return nil, fmt.Errorf("non-numeric coordinates in %s", env.Type)
		}
		c.X, c.Y = clamp01(c.X), clamp01(c.Y)
		return c, nil

	case TypeKeypress:
		var k Keypress
		if err := json.Unmarshal(raw, &k); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if !IsControlKey(k.Key) {
			return nil, fmt.Errorf("key %q is not a control key", k.Key)
		}
		return k, nil

	case TypeType:
		var t TypeText
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", env.Type, err)
		}
		if t.Text == "" {
			return nil, fmt.Errorf("missing required field 'text' in %s", env.Type)
		}
		return t, nil

	case "":
		return nil, fmt.Errorf("missing 'type' field")
	}
	return nil, fmt.Errorf("unknown message type: %s", env.Type)
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
