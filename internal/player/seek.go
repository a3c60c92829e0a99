package player

import (
	"errors"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/edl"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
	"github.com/zsiec/playcore/internal/metrics"
)

// ErrNoSceneMarker is returned by SeekScene when no scene marker lies in
// the requested direction.
var ErrNoSceneMarker = errors.New("no scene marker in that direction")

// commBreakNudge moves an automatic commercial skip just past the break end
// so the landing point is no longer inside it.
const commBreakNudge = time.Millisecond

// SeekState describes what the seek engine did last.
type SeekState int

const (
	SeekStateNormal SeekState = iota
	SeekStateRequested
	SeekStateCutDetected
	SeekStateCommBreakSkipped
)

func (s SeekState) String() string {
	switch s {
	case SeekStateNormal:
		return "normal"
	case SeekStateRequested:
		return "seek_requested"
	case SeekStateCutDetected:
		return "cut_detected"
	case SeekStateCommBreakSkipped:
		return "commbreak_skipped"
	default:
		return "unknown"
	}
}

// seekHost is what the seek engine needs from the player.
type seekHost interface {
	Time() time.Duration
	TotalTime() time.Duration
	Chapter() int
	ChapterCount() int
	Speed() int
	SynchronizeDemuxer(timeout time.Duration)

	rawClock() time.Duration
	post(msg message.Message)
	seekChapter(chapter int) bool
	notifySeek(t, offset time.Duration)
}

// SeekEngine turns user seek requests into Seek messages and performs the
// automatic EDL skips. User requests arrive on caller goroutines while
// automatic skips run on the demux goroutine, so EDL state is locked.
type SeekEngine struct {
	host        seekHost
	cfg         config.SeekConfig
	edlCfg      config.EDLConfig
	demuxerSync time.Duration
	logger      logger.Logger

	// now is the wall clock driving the cut marker reset cadence
	now func() time.Time

	mu      sync.Mutex
	edl     *edl.List
	markers edl.Markers
	state   SeekState
}

// newSeekEngine creates an engine without an EDL.
func newSeekEngine(host seekHost, cfg config.PlayerConfig, log logger.Logger) *SeekEngine {
	return &SeekEngine{
		host:        host,
		cfg:         cfg.Seek,
		edlCfg:      cfg.EDL,
		demuxerSync: cfg.DemuxerSyncTimeout,
		logger:      log.WithField("component", "seek"),
		now:         time.Now,
		markers:     edl.NewMarkers(),
	}
}

// SetEDL replaces the edit list and forgets every skip marker.
func (e *SeekEngine) SetEDL(l *edl.List) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edl = l
	e.markers.Clear()
	e.state = SeekStateNormal
}

func (e *SeekEngine) EDL() *edl.List {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edl
}

// Markers returns a copy of the automatic skip markers.
func (e *SeekEngine) Markers() edl.Markers {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markers
}

func (e *SeekEngine) State() SeekState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Clear drops the edit list and the skip markers.
func (e *SeekEngine) Clear() {
	e.SetEDL(nil)
}

// SeekCompleted is called by the demux loop after a Seek was handled.
func (e *SeekEngine) SeekCompleted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = SeekStateNormal
}

// RemoveCutTime maps a title time to playback time.
func (e *SeekEngine) RemoveCutTime(t time.Duration) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edl.RemoveCutTime(t)
}

// RestoreCutTime maps a playback time back to title time.
func (e *SeekEngine) RestoreCutTime(t time.Duration) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edl.RestoreCutTime(t)
}

// TotalCutTime is the playback time removed by cuts.
func (e *SeekEngine) TotalCutTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edl.TotalCutTime()
}

func (e *SeekEngine) timeStep(forward, large bool) time.Duration {
	switch {
	case forward && large:
		return e.cfg.TimeForwardBig
	case forward:
		return e.cfg.TimeForward
	case large:
		return -e.cfg.TimeBackwardBig
	default:
		return -e.cfg.TimeBackward
	}
}

func (e *SeekEngine) percentStep(forward, large bool) float64 {
	switch {
	case forward && large:
		return e.cfg.PercentForwardBig
	case forward:
		return e.cfg.PercentForward
	case large:
		return -e.cfg.PercentBackwardBig
	default:
		return -e.cfg.PercentBackward
	}
}

// Seek performs a relative step. Large steps move between chapters when
// the title has them.
func (e *SeekEngine) Seek(forward, large bool) {
	chapter, count := e.host.Chapter(), e.host.ChapterCount()
	if large && ((forward && chapter < count) || (!forward && chapter > 1)) {
		next := chapter + 1
		if !forward {
			next = chapter - 1
		}
		e.host.seekChapter(next)
		return
	}

	previous := e.host.Time()
	total := e.host.TotalTime()

	var target time.Duration
	if e.cfg.UseTimeSeeking && total > 2*e.cfg.TimeForwardBig {
		target = previous + e.timeStep(forward, large)
	} else {
		pct := percentage(previous, total) + e.percentStep(forward, large)
		target = time.Duration(float64(total) * pct / 100)
	}

	restore := true
	e.mu.Lock()
	if e.edl.HasCut() {
		clk := e.host.rawClock()
		m := &e.markers
		switch {
		case large && !forward && m.SeekToStart &&
			clk >= m.CommBreakEnd && clk <= m.CommBreakEnd+e.edlCfg.CommBreakGrace:
			e.logger.WithFields(map[string]interface{}{
				"clock": clk,
				"start": m.CommBreakStart,
			}).Debug("Seeking back to start of skipped commercial break")
			target = m.CommBreakStart
			restore = false
			m.SeekToStart = false
		case large && forward && m.CommBreakStart != edl.NoMarker &&
			clk >= m.CommBreakStart && clk <= m.CommBreakEnd:
			target = m.CommBreakEnd
			restore = false
		}
	}
	e.state = SeekStateRequested
	e.mu.Unlock()

	metrics.IncrementSeek("step")
	e.host.post(message.Seek{
		Time:     target,
		Backward: !forward,
		Flush:    true,
		Accurate: false,
		Restore:  restore,
	})
	e.host.SynchronizeDemuxer(e.demuxerSync)

	target = max(target, 0)
	e.host.notifySeek(target, target-previous)
}

// SeekTime performs an accurate seek to t, clamped to the title.
func (e *SeekEngine) SeekTime(t time.Duration) {
	total := e.host.TotalTime()
	upper := t
	if total > 0 {
		upper = total
	}
	if clamped := lo.Clamp(t, 0, upper); clamped != t {
		e.logger.WithFields(map[string]interface{}{
			"requested": t,
			"total":     total,
		}).Warn("Seek out of range, clamping")
		t = clamped
	}

	previous := e.host.Time()
	e.mu.Lock()
	e.state = SeekStateRequested
	e.mu.Unlock()

	metrics.IncrementSeek("time")
	e.host.post(message.Seek{
		Time:     t,
		Backward: true,
		Flush:    true,
		Accurate: true,
		Restore:  true,
	})
	e.host.SynchronizeDemuxer(e.demuxerSync)
	e.host.notifySeek(t, t-previous)
}

// SeekPercentage seeks to pct of the title. Titles of unknown length are
// not seekable this way.
func (e *SeekEngine) SeekPercentage(pct float64) {
	total := e.host.TotalTime()
	if total <= 0 {
		return
	}
	e.SeekTime(time.Duration(float64(total) * pct / 100))
}

// SeekScene jumps to the next scene marker in the given direction. Going
// back, a grace offset lets repeated presses step past the current scene.
func (e *SeekEngine) SeekScene(forward bool) error {
	e.mu.Lock()
	if !e.edl.HasSceneMarker() {
		e.mu.Unlock()
		return ErrNoSceneMarker
	}

	clk := e.host.rawClock()
	if !forward && clk > e.edlCfg.SceneBackOffset {
		clk -= e.edlCfg.SceneBackOffset
	}
	marker, ok := e.edl.NextSceneMarker(forward, clk)
	if !ok {
		e.mu.Unlock()
		return ErrNoSceneMarker
	}
	e.state = SeekStateRequested
	e.mu.Unlock()

	metrics.IncrementSeek("scene")
	e.host.post(message.Seek{
		Time:     marker,
		Backward: !forward,
		Flush:    true,
		Accurate: false,
		Restore:  false,
	})
	e.host.SynchronizeDemuxer(e.demuxerSync)
	return nil
}

// CheckAutoSceneSkip skips cuts and commercial breaks at the demux point.
// It runs on the demux goroutine once per loop.
func (e *SeekEngine) CheckAutoSceneSkip(audio, video *CurrentStream) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.edl.HasCut() {
		return
	}
	if !audio.Enabled() || !video.Enabled() {
		return
	}
	// wait for the previous seek to settle
	if audio.StartPTS != message.NoPTS || video.StartPTS != message.NoPTS {
		return
	}
	if audio.DTS == message.NoPTS || video.DTS == message.NoPTS {
		return
	}

	clk := min(audio.DTS, video.DTS)
	cut, ok := e.edl.InCut(clk)
	if !ok {
		return
	}

	speed := e.host.Speed()
	switch cut.Action {
	case edl.ActionCut:
		if cut.Start != e.markers.Cut && cut.End != e.markers.Cut {
			target, backward := cut.End, false
			if speed < 0 {
				target, backward = cut.Start, true
			}
			e.logger.WithFields(map[string]interface{}{
				"clock":  clk,
				"start":  cut.Start,
				"end":    cut.End,
				"target": target,
			}).Debug("Skipping cut")
			e.host.post(message.Seek{
				Time:     target,
				Backward: backward,
				Flush:    false,
				Accurate: true,
				Restore:  false,
			})
			e.markers.Cut = target
			e.state = SeekStateCutDetected
			metrics.IncrementSceneSkip(cut.Action.String())
		}

	case edl.ActionCommBreak:
		if speed >= 0 && cut.Start > e.markers.CommBreakEnd {
			e.logger.WithFields(map[string]interface{}{
				"clock": clk,
				"start": cut.Start,
				"end":   cut.End,
			}).Debug("Skipping commercial break")
			e.host.post(message.Seek{
				Time:     cut.End + commBreakNudge,
				Backward: false,
				Flush:    false,
				Accurate: true,
				Restore:  false,
			})
			e.markers.CommBreakStart = cut.Start
			e.markers.CommBreakEnd = cut.End
			e.markers.SeekToStart = true
			e.state = SeekStateCommBreakSkipped
			metrics.IncrementSceneSkip(cut.Action.String())
		}
	}

	e.markers.ResetCutMarker(e.edlCfg.MarkerReset, e.now())
}

// checkMute reports the silence command due for audio at dts, if any.
func (e *SeekEngine) checkMute(dts time.Duration) (message.Silence, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.edl.HasCut() || dts == message.NoPTS {
		return message.Silence{}, false
	}
	cut, in := e.edl.InCut(dts)
	switch {
	case in && cut.Action == edl.ActionMute && !e.markers.Mute:
		e.markers.Mute = true
		return message.Silence{Enabled: true}, true
	case !in && e.markers.Mute:
		e.markers.Mute = false
		return message.Silence{Enabled: false}, true
	}
	return message.Silence{}, false
}

func percentage(t, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return float64(t) * 100 / float64(total)
}
