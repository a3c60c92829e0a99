package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/playcore/internal/player"
)

// StatusSource reports a playback snapshot.
type StatusSource interface {
	Status() player.Status
}

// PlayerChecker watches the playback clock. Buffering degrades the
// service and a clock that stops advancing during playback takes it down.
type PlayerChecker struct {
	source StatusSource

	mu          sync.Mutex
	lastSession string
	lastTime    time.Duration
	seen        bool
}

// NewPlayerChecker creates a playback health checker.
func NewPlayerChecker(source StatusSource) *PlayerChecker {
	return &PlayerChecker{source: source}
}

// Name returns the name of the checker.
func (c *PlayerChecker) Name() string {
	return "player"
}

// Check performs the playback check.
func (c *PlayerChecker) Check(ctx context.Context) error {
	st := c.source.Status()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !st.Open || st.Ended {
		c.seen = false
		return nil
	}

	prev, seen := c.lastTime, c.seen && c.lastSession == st.SessionID
	c.lastSession, c.lastTime, c.seen = st.SessionID, st.Time, true

	if st.CacheState != "done" {
		return fmt.Errorf("buffering %s (cache %s, level %d%%): %w", st.Item, st.CacheState, st.CacheLevel, ErrDegraded)
	}
	if st.Paused || !seen {
		return nil
	}
	if st.Time == prev {
		return fmt.Errorf("playback of %s stalled at %s", st.Item, st.Time)
	}
	return nil
}
