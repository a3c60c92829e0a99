package edl

import "time"

// NoMarker means no boundary has been recorded.
const NoMarker = time.Duration(-1)

// Markers remembers which automatic skips were already performed so the
// same cut is not acted on repeatedly while the seek settles.
type Markers struct {
	// Cut is the cut boundary most recently seeked to.
	Cut time.Duration
	// CommBreakStart and CommBreakEnd describe the last skipped break.
	CommBreakStart time.Duration
	CommBreakEnd   time.Duration
	// SeekToStart allows a large backward seek shortly after a skipped
	// break to land on the break start.
	SeekToStart bool
	// Mute is set while the demux point is inside a mute region.
	Mute bool

	lastReset time.Time
}

// NewMarkers returns markers with nothing recorded.
func NewMarkers() Markers {
	return Markers{
		Cut:            NoMarker,
		CommBreakStart: NoMarker,
		CommBreakEnd:   NoMarker,
	}
}

// Clear forgets every recorded boundary.
func (m *Markers) Clear() {
	*m = NewMarkers()
}

// ResetCutMarker forgets the cut boundary once interval has passed since
// the previous reset, allowing a cut to trigger again. The first call only
// starts the cadence.
func (m *Markers) ResetCutMarker(interval time.Duration, now time.Time) bool {
	if m.lastReset.IsZero() {
		m.lastReset = now
		return false
	}
	if now.Sub(m.lastReset) < interval {
		return false
	}
	m.Cut = NoMarker
	m.lastReset = now
	return true
}
