package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"sync"
	"time"

	"scarlet/internal/protocol"
)

var (
	colorLogin     = color.RGBA{0xbb, 0x00, 0x00, 0xff}
	colorPortal    = color.RGBA{0x1f, 0x2a, 0x37, 0xff}
	colorCursor    = color.RGBA{0xff, 0xff, 0xff, 0xff}
	colorTyped     = color.RGBA{0xea, 0xb3, 0x08, 0xff}
	colorExtracted = color.RGBA{0x22, 0xc5, 0x5e, 0xff}
)

const cursorSize = 12

// Scripted is a deterministic stand-in for a real browser, driven by a Scenario.
type Scripted struct {
	sc Scenario

	mu         sync.Mutex
	started    bool
	closed     bool
	clicks     int
	typed      strings.Builder
	entered    bool
	extracting bool
	extracted  bool
	cursor     image.Point
}

func NewScripted(sc Scenario) *Scripted {
	return &Scripted{sc: sc, cursor: image.Pt(-1, -1)}
}

// ScriptedFactory builds drivers from whatever scenario current returns at
// session start, so a reloaded scenario applies to the next session.
func ScriptedFactory(current func() Scenario) Factory {
	return func() Driver { return NewScripted(current()) }
}

func (d *Scripted) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.sc.StartError != "" {
		return errors.New(d.sc.StartError)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *Scripted) ready() error {
	if !d.started || d.closed {
		return ErrNotStarted
	}
	return nil
}

func (d *Scripted) Click(ctx context.Context, x, y float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	d.clicks++
	d.cursor = image.Pt(int(x*float64(d.sc.Viewport.Width)), int(y*float64(d.sc.Viewport.Height)))
	return nil
}

func (d *Scripted) Key(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	switch key {
	case "Enter":
		d.entered = true
	case "Backspace":
		s := d.typed.String()
		if s != "" {
			runes := []rune(s)
			d.typed.Reset()
			d.typed.WriteString(string(runes[:len(runes)-1]))
		}
	}
	return nil
}

func (d *Scripted) Type(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	d.typed.WriteString(text)
	return nil
}

func (d *Scripted) Authenticated(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return false, err
	}
	return d.authenticatedLocked(), nil
}

func (d *Scripted) authenticatedLocked() bool {
	login := d.sc.Login
	switch {
	case login.Clicks > 0:
		return d.clicks >= login.Clicks
	case login.Username != "" || login.Password != "":
		typed := d.typed.String()
		return d.entered && strings.Contains(typed, login.Username) && strings.Contains(typed, login.Password)
	}
	return d.entered
}

func (d *Scripted) Extract(ctx context.Context) (*protocol.Schedule, error) {
	d.mu.Lock()
	if err := d.ready(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.extracting = true
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d.sc.ExtractDelay):
	}

	if d.sc.ExtractError != "" {
		return nil, errors.New(d.sc.ExtractError)
	}

	d.mu.Lock()
	d.extracted = true
	d.mu.Unlock()
	return d.sc.Schedule.ToSchedule(), nil
}

// Screenshot renders the scripted page: red while logging in and dark once in
// the portal. Typed text shows as a bar, and the last click as a white square.
func (d *Scripted) Screenshot(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	if err := d.ready(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	w, h := d.sc.Viewport.Width, d.sc.Viewport.Height
	loggedIn := d.authenticatedLocked()
	typedLen := len([]rune(d.typed.String()))
	extracting, extracted := d.extracting, d.extracted
	cursor := d.cursor
	d.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := colorLogin
	if loggedIn {
		bg = colorPortal
	}
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	if !loggedIn && typedLen > 0 {
		bar := image.Rect(w/4, h/2, w/4+min(typedLen*12, w/2), h/2+16)
		draw.Draw(img, bar, &image.Uniform{colorTyped}, image.Point{}, draw.Src)
	}
	if extracting || extracted {
		width := w / 3
		if extracted {
			width = w
		}
		draw.Draw(img, image.Rect(0, 0, width, 8), &image.Uniform{colorExtracted}, image.Point{}, draw.Src)
	}
	if cursor.X >= 0 {
		r := image.Rect(cursor.X-cursorSize/2, cursor.Y-cursorSize/2, cursor.X+cursorSize/2, cursor.Y+cursorSize/2)
		draw.Draw(img, r.Intersect(img.Bounds()), &image.Uniform{colorCursor}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *Scripted) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
