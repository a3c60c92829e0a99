package clock

import (
	"sync"
	"time"

	"github.com/zsiec/playcore/internal/message"
)

// NoPTS marks an unknown timestamp.
const NoPTS = message.NoPTS

// Play speeds are expressed in thousandths of normal speed.
const (
	SpeedPause  = 0
	SpeedNormal = 1000
)

// DiscontinuityType tells consumers how a clock jump should be absorbed.
type DiscontinuityType int

const (
	// DiscontinuityNormal rebases the clock without resetting consumers.
	DiscontinuityNormal DiscontinuityType = iota
	// DiscontinuityAbsolute forces every consumer to resynchronize.
	DiscontinuityAbsolute
)

func (t DiscontinuityType) String() string {
	if t == DiscontinuityAbsolute {
		return "absolute"
	}
	return "normal"
}

// Discontinuity records the most recent clock jump.
type Discontinuity struct {
	Type       DiscontinuityType
	Value      time.Duration
	Offset     time.Duration
	Generation uint64
}

// Snapshot is a consistent view of the clock.
type Snapshot struct {
	Time          time.Duration
	Speed         int
	Paused        bool
	Discontinuity Discontinuity
}

// Clock is the shared presentation clock. Its value advances with wall
// time scaled by the play speed and is rebased by discontinuities.
type Clock struct {
	mu sync.RWMutex

	now func() time.Time

	base   time.Duration
	ref    time.Time
	speed  int
	paused bool
	disc   Discontinuity
}

// New creates a clock at zero running at normal speed.
func New() *Clock {
	return NewWithSource(time.Now)
}

// NewWithSource creates a clock reading wall time from now.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{
		now:   now,
		ref:   now(),
		speed: SpeedNormal,
	}
}

// GetClock returns the current presentation time.
func (c *Clock) GetClock() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valueLocked(c.now())
}

func (c *Clock) valueLocked(now time.Time) time.Duration {
	if c.paused {
		return c.base
	}
	elapsed := now.Sub(c.ref)
	if elapsed < 0 {
		elapsed = 0
	}
	return c.base + elapsed*time.Duration(c.speed)/SpeedNormal
}

// rebaseLocked folds elapsed time into base so speed or pause changes
// apply from now on.
func (c *Clock) rebaseLocked() {
	now := c.now()
	c.base = c.valueLocked(now)
	c.ref = now
}

// Discontinuity jumps the clock to pts. The clock holds pts for offset
// before it resumes advancing, which lets output buffers drain.
func (c *Clock) Discontinuity(typ DiscontinuityType, pts, offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.base = pts
	c.ref = c.now().Add(offset)
	c.disc = Discontinuity{
		Type:       typ,
		Value:      pts,
		Offset:     offset,
		Generation: c.disc.Generation + 1,
	}
}

// SetSpeed changes the play speed. SpeedPause freezes the clock.
func (c *Clock) SetSpeed(speed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebaseLocked()
	c.speed = speed
}

// Speed returns the play speed.
func (c *Clock) Speed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

// Pause freezes or resumes the clock without changing its speed.
func (c *Clock) Pause(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused == paused {
		return
	}
	if paused {
		c.rebaseLocked()
	} else {
		c.ref = c.now()
	}
	c.paused = paused
}

// Paused reports whether the clock is frozen by Pause.
func (c *Clock) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Snapshot returns time, speed and the last discontinuity in one read.
func (c *Clock) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Time:          c.valueLocked(c.now()),
		Speed:         c.speed,
		Paused:        c.paused,
		Discontinuity: c.disc,
	}
}
