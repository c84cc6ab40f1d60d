package connect

import (
	"strings"
	"sync"

	"scarlet/internal/protocol"
)

// Rect is the on-screen bounding box the current frame is rendered into.
type Rect struct {
	Left, Top, Width, Height float64
}

// Normalize maps client coordinates to fractions of r. ok is false for an
// empty rect.
func (r Rect) Normalize(cx, cy float64) (x, y float64, ok bool) {
	if r.Width <= 0 || r.Height <= 0 {
		return 0, 0, false
	}
	return (cx - r.Left) / r.Width, (cy - r.Top) / r.Height, true
}

// Send forwards cmd on the current stream. It reports false, and does nothing
// else, when no stream is open.
func (c *Client) Send(cmd protocol.Command) bool {
	return c.slot.send(cmd)
}

// Click forwards a click at client coordinates (cx, cy) over the rendered surface.
func (c *Client) Click(cx, cy float64, surface Rect) bool {
	x, y, ok := surface.Normalize(cx, cy)
	if !ok {
		return false
	}
	return c.Send(protocol.Click{X: x, Y: y})
}

// KeyDown forwards key if it is a control key and reports whether it was
// consumed, in which case the caller should suppress its default handling.
// Ordinary characters reach the relay through a TextInput instead.
func (c *Client) KeyDown(key string) bool {
	if !protocol.IsControlKey(key) {
		return false
	}
	c.Send(protocol.Keypress{Key: key})
	return true
}

// TextInput stages ordinary characters until the local input layer flushes
// them as one typed run.
type TextInput struct {
	client *Client

	mu  sync.Mutex
	buf strings.Builder
}

func (c *Client) NewTextInput() *TextInput {
	return &TextInput{client: c}
}

// WriteString appends s to the staged text.
func (t *TextInput) WriteString(s string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.WriteString(s)
}

// Staged returns the text not yet flushed.
func (t *TextInput) Staged() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Flush sends the staged text as one type command and clears the buffer.
// Nothing is sent when the buffer is empty. The buffer is cleared even when
// no stream is open.
func (t *TextInput) Flush() bool {
	t.mu.Lock()
	text := t.buf.String()
	t.buf.Reset()
	t.mu.Unlock()

	if text == "" {
		return false
	}
	return t.client.Send(protocol.TypeText{Text: text})
}
