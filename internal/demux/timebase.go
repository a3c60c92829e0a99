package demux

import (
	"fmt"
	"time"
)

// TimeBase is the duration of one timestamp tick as a rational number of
// seconds.
type TimeBase struct {
	Num int64
	Den int64
}

// Common time bases
var (
	TimeBase90kHz = TimeBase{Num: 1, Den: 90000}
	TimeBase48kHz = TimeBase{Num: 1, Den: 48000}
	TimeBase44kHz = TimeBase{Num: 1, Den: 44100}
)

// ClockRate returns a time base of one tick per 1/rate seconds.
func ClockRate(rate uint32) TimeBase {
	if rate == 0 {
		rate = 90000
	}
	return TimeBase{Num: 1, Den: int64(rate)}
}

func (tb TimeBase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// Duration converts ticks to a time.Duration without overflowing for any
// timestamp a 33-bit counter can hold.
func (tb TimeBase) Duration(ticks int64) time.Duration {
	if tb.Den == 0 {
		return 0
	}
	n := ticks * tb.Num
	q, r := n/tb.Den, n%tb.Den
	return time.Duration(q)*time.Second + time.Duration(r*int64(time.Second)/tb.Den)
}

// Ticks converts a duration to ticks, truncating.
func (tb TimeBase) Ticks(d time.Duration) int64 {
	if tb.Num == 0 {
		return 0
	}
	secs, rem := int64(d/time.Second), int64(d%time.Second)
	return (secs*tb.Den + rem*tb.Den/int64(time.Second)) / tb.Num
}

// unwrapper extends an N-bit wrapping counter into a monotonic 64-bit one.
// A backwards jump by more than half the counter range counts as a wrap.
// Values just before a wrap that arrive after it (B-frame reordering) are
// placed in the previous epoch.
type unwrapper struct {
	threshold int64
	half      int64
	last      int64
	wraps     int64
	started   bool
}

func newUnwrapper(bits uint) *unwrapper {
	threshold := int64(1) << bits
	return &unwrapper{threshold: threshold, half: threshold / 2}
}

func (u *unwrapper) unwrap(ts int64) int64 {
	ts &= u.threshold - 1
	if !u.started {
		u.started = true
		u.last = ts
		return ts
	}

	if ts < u.last && u.last-ts > u.half {
		u.wraps++
	} else if ts > u.last && ts-u.last > u.half && u.wraps > 0 {
		return ts + (u.wraps-1)*u.threshold
	}
	u.last = ts
	return ts + u.wraps*u.threshold
}

func (u *unwrapper) reset() {
	u.started = false
	u.wraps = 0
	u.last = 0
}
