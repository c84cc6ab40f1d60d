package protocol

import "encoding/json"

// Status is the phase of a connect session as reported by the relay.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusAwaitingAuth  Status = "awaiting_auth"
	StatusAuthenticated Status = "authenticated"
	StatusExtracting    Status = "extracting"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusAwaitingAuth, StatusAuthenticated,
		StatusExtracting, StatusComplete, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s ends a session.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Server → Client message types.
const (
	TypeFrame    = "frame"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Client → Server message types.
const (
	TypeClick    = "click"
	TypeKeypress = "keypress"
	TypeType     = "type"
)

// ServerMessage is one of *Frame, *Complete or *Error.
type ServerMessage interface {
	MessageType() string
}

// Frame is a screen snapshot paired with the status in effect when it was taken.
// Image holds the encoded picture; on the wire it is base64 text.
type Frame struct {
	Image   []byte `json:"image"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Complete carries the extracted schedule and ends the session successfully.
type Complete struct {
	Schedule *Schedule `json:"schedule"`
	Message  string    `json:"message"`
}

// Error ends the session with a failure the user should see.
type Error struct {
	Message string `json:"message"`
}

func (*Frame) MessageType() string    { return TypeFrame }
func (*Complete) MessageType() string { return TypeComplete }
func (*Error) MessageType() string    { return TypeError }

func (f *Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Image   []byte `json:"image"`
		Status  Status `json:"status"`
		Message string `json:"message"`
	}{TypeFrame, f.Image, f.Status, f.Message})
}

func (c *Complete) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string    `json:"type"`
		Status   Status    `json:"status"`
		Schedule *Schedule `json:"schedule"`
		Message  string    `json:"message"`
	}{TypeComplete, StatusComplete, c.Schedule, c.Message})
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{TypeError, e.Message})
}

// Command is one of Click, Keypress or TypeText.
type Command interface {
	CommandType() string
}

// Click is a pointer click at coordinates normalised to [0,1] of the rendered frame.
type Click struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Keypress is a named control key. See IsControlKey.
type Keypress struct {
	Key string `json:"key"`
}

// TypeText is a literal run of typed characters.
type TypeText struct {
	Text string `json:"text"`
}

func (Click) CommandType() string    { return TypeClick }
func (Keypress) CommandType() string { return TypeKeypress }
func (TypeText) CommandType() string { return TypeType }

func (c Click) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string  `json:"type"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}{TypeClick, c.X, c.Y})
}

func (k Keypress) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Key  string `json:"key"`
	}{TypeKeypress, k.Key})
}

func (t TypeText) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{TypeType, t.Text})
}
