// Package store keeps extracted schedules so they outlive the session that
// produced them.
package store

import (
	"context"
	"errors"
	"time"

	"scarlet/internal/protocol"
)

// ErrNotFound is returned by Latest when nothing has been saved.
var ErrNotFound = errors.New("store: no schedule saved")

// Record is one saved extraction.
type Record struct {
	SessionID string             `json:"sessionId"`
	Schedule  *protocol.Schedule `json:"schedule"`
	SavedAt   time.Time          `json:"savedAt"`
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	Latest(ctx context.Context) (Record, error)
}
