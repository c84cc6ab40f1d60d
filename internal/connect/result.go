package connect

import (
	"time"

	"scarlet/internal/protocol"
)

// result holds the session's schedule and whether it is on screen yet.
// Guarded by Client.mu.
type result struct {
	schedule *protocol.Schedule
	revealed bool
	timer    *time.Timer
}

// set stores s and arms the reveal timer. Only the first schedule of a session
// is kept.
func (r *result) set(s *protocol.Schedule, delay time.Duration, fire func()) bool {
	if r.schedule != nil {
		return false
	}
	r.schedule = s
	r.revealed = false
	r.timer = time.AfterFunc(delay, fire)
	return true
}

func (r *result) reveal() bool {
	if r.schedule == nil || r.revealed {
		return false
	}
	r.revealed = true
	return true
}

func (r *result) visible() *protocol.Schedule {
	if !r.revealed {
		return nil
	}
	return r.schedule
}

func (r *result) clear() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.schedule = nil
	r.revealed = false
}
