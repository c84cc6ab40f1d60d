// Package driver is the seam between the relay and the browser that performs
// the portal login and schedule extraction.
package driver

import (
	"context"
	"errors"

	"scarlet/internal/protocol"
)

// ErrNotStarted is returned by operations on a driver before Start.
var ErrNotStarted = errors.New("driver: browser not started")

// Driver controls one remote browser. Coordinates passed to Click are
// fractions of the viewport.
type Driver interface {
	Start(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, x, y float64) error
	Key(ctx context.Context, key string) error
	Type(ctx context.Context, text string) error
	// Authenticated reports whether the user has finished logging in.
	Authenticated(ctx context.Context) (bool, error)
	// Extract reads the schedule from the logged-in portal.
	Extract(ctx context.Context) (*protocol.Schedule, error)
	Close() error
}

// Factory creates a fresh driver for each session.
type Factory func() Driver
