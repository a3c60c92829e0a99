package edl

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
)

var (
	// ErrInvalidCut indicates a cut whose end is not after its start
	ErrInvalidCut = errors.New("invalid cut range")

	// ErrOverlap indicates a cut overlapping one already in the list
	ErrOverlap = errors.New("cut overlaps existing cut")
)

// Action is what the player does when playback enters a cut.
type Action int

const (
	ActionCut Action = iota
	ActionMute
	ActionSceneMarker
	ActionCommBreak
)

func (a Action) String() string {
	switch a {
	case ActionCut:
		return "cut"
	case ActionMute:
		return "mute"
	case ActionSceneMarker:
		return "scene"
	case ActionCommBreak:
		return "commbreak"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Cut is a region of the title with an associated action. Start and End
// are both inclusive.
type Cut struct {
	Start  time.Duration `json:"start"`
	End    time.Duration `json:"end"`
	Action Action        `json:"action"`
}

// Contains reports whether t lies inside the cut.
func (c Cut) Contains(t time.Duration) bool {
	return t >= c.Start && t <= c.End
}

// List is an ordered set of non-overlapping cuts plus a sorted set of scene
// markers. Commercial breaks contribute scene markers at both boundaries.
type List struct {
	cuts   []Cut
	scenes []time.Duration
}

// New returns an empty list.
func New() *List {
	return &List{}
}

// AddCut inserts c keeping the list ordered by start time.
func (l *List) AddCut(c Cut) error {
	if c.Action == ActionSceneMarker {
		l.AddSceneMarker(c.Start)
		return nil
	}
	if c.Start < 0 || c.End <= c.Start {
		return fmt.Errorf("%w: %v-%v", ErrInvalidCut, c.Start, c.End)
	}

	overlapping := lo.ContainsBy(l.cuts, func(o Cut) bool {
		return c.Start <= o.End && o.Start <= c.End
	})
	if overlapping {
		return fmt.Errorf("%w: %v-%v", ErrOverlap, c.Start, c.End)
	}

	i := sort.Search(len(l.cuts), func(i int) bool { return l.cuts[i].Start > c.Start })
	l.cuts = append(l.cuts, Cut{})
	copy(l.cuts[i+1:], l.cuts[i:])
	l.cuts[i] = c

	if c.Action == ActionCommBreak {
		l.AddSceneMarker(c.Start)
		l.AddSceneMarker(c.End)
	}
	return nil
}

// AddSceneMarker records a scene boundary at t. Duplicates are ignored.
func (l *List) AddSceneMarker(t time.Duration) {
	i := sort.Search(len(l.scenes), func(i int) bool { return l.scenes[i] >= t })
	if i < len(l.scenes) && l.scenes[i] == t {
		return
	}
	l.scenes = append(l.scenes, 0)
	copy(l.scenes[i+1:], l.scenes[i:])
	l.scenes[i] = t
}

// HasCut reports whether the list contains any cut regions.
func (l *List) HasCut() bool {
	return l != nil && len(l.cuts) > 0
}

// HasSceneMarker reports whether the list contains any scene markers.
func (l *List) HasSceneMarker() bool {
	return l != nil && len(l.scenes) > 0
}

// InCut returns the cut containing t.
func (l *List) InCut(t time.Duration) (Cut, bool) {
	if l == nil {
		return Cut{}, false
	}
	return lo.Find(l.cuts, func(c Cut) bool { return c.Contains(t) })
}

// NextSceneMarker returns the nearest scene marker after t when forward,
// or before t otherwise.
func (l *List) NextSceneMarker(forward bool, t time.Duration) (time.Duration, bool) {
	if !l.HasSceneMarker() {
		return 0, false
	}
	if forward {
		i := sort.Search(len(l.scenes), func(i int) bool { return l.scenes[i] > t })
		if i == len(l.scenes) {
			return 0, false
		}
		return l.scenes[i], true
	}
	i := sort.Search(len(l.scenes), func(i int) bool { return l.scenes[i] >= t })
	if i == 0 {
		return 0, false
	}
	return l.scenes[i-1], true
}

// Cuts returns a copy of the cut regions in order.
func (l *List) Cuts() []Cut {
	if l == nil {
		return nil
	}
	return append([]Cut(nil), l.cuts...)
}

// SceneMarkers returns a copy of the scene markers in order.
func (l *List) SceneMarkers() []time.Duration {
	if l == nil {
		return nil
	}
	return append([]time.Duration(nil), l.scenes...)
}

// TotalCutTime is the playback time removed by ActionCut regions.
func (l *List) TotalCutTime() time.Duration {
	if l == nil {
		return 0
	}
	return lo.SumBy(lo.Filter(l.cuts, func(c Cut, _ int) bool {
		return c.Action == ActionCut
	}), func(c Cut) time.Duration {
		return c.End - c.Start
	})
}

// RemoveCutTime maps a title time to the playback time the viewer sees,
// discounting every ActionCut region that starts at or before t. A time
// inside a cut maps to the cut's start.
func (l *List) RemoveCutTime(t time.Duration) time.Duration {
	if l == nil {
		return t
	}
	var removed time.Duration
	for _, c := range l.cuts {
		if c.Action != ActionCut || t < c.Start {
			continue
		}
		if c.Contains(t) {
			removed += t - c.Start
		} else {
			removed += c.End - c.Start
		}
	}
	return t - removed
}

// RestoreCutTime is the inverse of RemoveCutTime: it maps a playback time
// back to the title time by adding the length of every cut already passed.
func (l *List) RestoreCutTime(t time.Duration) time.Duration {
	if l == nil {
		return t
	}
	restored := t
	for _, c := range l.cuts {
		if c.Action == ActionCut && restored >= c.Start {
			restored += c.End - c.Start
		}
	}
	return restored
}

// Clear removes all cuts and scene markers.
func (l *List) Clear() {
	l.cuts = nil
	l.scenes = nil
}
