package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestClock() (*Clock, *fakeTime) {
	ft := &fakeTime{now: time.Unix(1000, 0)}
	return NewWithSource(ft.Now), ft
}

func TestClock_Advances(t *testing.T) {
	c, ft := newTestClock()
	assert.Equal(t, time.Duration(0), c.GetClock())

	ft.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, c.GetClock())
}

func TestClock_Discontinuity(t *testing.T) {
	tests := []struct {
		name     string
		pts      time.Duration
		offset   time.Duration
		advance  time.Duration
		expected time.Duration
	}{
		{"jump forward", 60 * time.Second, 0, time.Second, 61 * time.Second},
		{"jump backward", 5 * time.Second, 0, 0, 5 * time.Second},
		{"offset holds the clock", 10 * time.Second, 500 * time.Millisecond, 200 * time.Millisecond, 9700 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ft := newTestClock()
			ft.Advance(30 * time.Second)

			c.Discontinuity(DiscontinuityNormal, tt.pts, tt.offset)
			ft.Advance(tt.advance)
			assert.Equal(t, tt.expected, c.GetClock())
		})
	}
}

func TestClock_DiscontinuityGeneration(t *testing.T) {
	c, _ := newTestClock()
	assert.Equal(t, uint64(0), c.Snapshot().Discontinuity.Generation)

	c.Discontinuity(DiscontinuityNormal, time.Second, 0)
	c.Discontinuity(DiscontinuityAbsolute, 2*time.Second, 0)

	snap := c.Snapshot()
	assert.Equal(t, uint64(2), snap.Discontinuity.Generation)
	assert.Equal(t, DiscontinuityAbsolute, snap.Discontinuity.Type)
	assert.Equal(t, 2*time.Second, snap.Discontinuity.Value)
}

func TestClock_Speed(t *testing.T) {
	c, ft := newTestClock()
	ft.Advance(time.Second)

	c.SetSpeed(2 * SpeedNormal)
	ft.Advance(time.Second)
	assert.Equal(t, 3*time.Second, c.GetClock())

	c.SetSpeed(-4 * SpeedNormal)
	ft.Advance(500 * time.Millisecond)
	assert.Equal(t, time.Second, c.GetClock())

	c.SetSpeed(SpeedPause)
	ft.Advance(10 * time.Second)
	assert.Equal(t, time.Second, c.GetClock())
	assert.Equal(t, SpeedPause, c.Speed())
}

func TestClock_Pause(t *testing.T) {
	c, ft := newTestClock()
	ft.Advance(time.Second)

	c.Pause(true)
	ft.Advance(5 * time.Second)
	assert.True(t, c.Paused())
	assert.Equal(t, time.Second, c.GetClock())

	c.Pause(false)
	ft.Advance(time.Second)
	assert.Equal(t, 2*time.Second, c.GetClock())
}
