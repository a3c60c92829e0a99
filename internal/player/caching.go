package player

import (
	"time"

	"github.com/zsiec/playcore/internal/clock"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
	"github.com/zsiec/playcore/internal/metrics"
)

// CacheState tracks whether playback waits for queues to fill.
type CacheState int

const (
	// CacheDone is normal playback.
	CacheDone CacheState = iota
	// CacheInit waits for every stream to produce its first output.
	CacheInit
	// CachePlay runs the clock until every stream is flowing again.
	CachePlay
	// CacheFull refills queues that ran dry during playback.
	CacheFull
)

func (s CacheState) String() string {
	switch s {
	case CacheDone:
		return "done"
	case CacheInit:
		return "init"
	case CachePlay:
		return "play"
	case CacheFull:
		return "full"
	default:
		return "unknown"
	}
}

const (
	// stallLevel is the queue level above which one dry stream does not
	// trigger caching.
	stallLevel = 50

	// catchUpThreshold is how far video may lag the clock during trick
	// play before a catch up seek is issued.
	catchUpThreshold = time.Second
	// catchUpLead is the head start given to a catch up seek at normal speed.
	catchUpLead = 500 * time.Millisecond
)

// SetCaching moves the caching state machine. The clock is paused while
// queues fill and resumes once they are flowing.
func (p *Player) SetCaching(state CacheState) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()

	prev := p.caching
	if prev == state {
		return
	}

	if state == CacheInit || state == CacheFull {
		p.clock.Pause(true)
	}
	if state == CachePlay || (state == CacheDone && prev != CachePlay) {
		p.clock.Pause(false)
	}

	p.caching = state
	metrics.SetCacheState(int(state))
	p.logger.WithFields(map[string]interface{}{
		"from": prev.String(),
		"to":   state.String(),
	}).Debug("Caching state changed")
}

// CacheState returns the current caching state.
func (p *Player) CacheState() CacheState {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	return p.caching
}

// CacheLevel is the fill level of the fuller of the audio and video queues.
func (p *Player) CacheLevel() int {
	return max(p.audio.queue.Level(), p.video.queue.Level())
}

// checkStartCaching starts refilling when a playing stream ran dry.
func (p *Player) checkStartCaching(current *CurrentStream) {
	if p.CacheState() != CacheDone || p.Speed() != clock.SpeedNormal {
		return
	}

	var stalled bool
	switch current.Type {
	case message.StreamAudio:
		stalled = p.audio.IsStalled()
	case message.StreamVideo:
		stalled = p.video.IsStalled()
	}
	if !stalled {
		return
	}

	// a single stream running dry is not worth pausing for
	if p.audio.queue.Level() > stallLevel || p.video.queue.Level() > stallLevel {
		return
	}

	if current.Inited {
		p.SetCaching(CacheFull)
	} else {
		p.SetCaching(CacheInit)
	}
}

// handlePlaySpeed advances caching and keeps trick play near the clock.
// It runs once per demux loop iteration.
func (p *Player) handlePlaySpeed() {
	audio, video := p.coordinator.Audio, p.coordinator.Video

	switch p.CacheState() {
	case CacheFull:
		if p.CacheLevel() >= 100 || p.eof || p.gated {
			p.SetCaching(CachePlay)
		}

	case CacheInit:
		// the demuxer may have hit a stream without data, play what we have
		if (!audio.Enabled() || audio.Started) && (!video.Enabled() || video.Started) {
			p.SetCaching(CachePlay)
		} else if audio.Enabled() && video.Enabled() &&
			((!p.audio.AcceptsData() && !video.Started) || (!p.video.AcceptsData() && !audio.Started)) {
			p.logger.Debug("Stream without output while the other queue is full, ending caching")
			p.SetCaching(CacheDone)
		}

	case CachePlay:
		stalled := (audio.Enabled() && p.audio.IsStalled()) || (video.Enabled() && p.video.IsStalled())
		if !stalled {
			p.SetCaching(CacheDone)
		}
	}

	if speed := p.Speed(); speed != clock.SpeedNormal && speed != clock.SpeedPause {
		p.catchUp(speed)
	}
}

// catchUp seeks ahead when video output lags the clock during fast
// forward or rewind.
func (p *Player) catchUp(speed int) {
	video := p.coordinator.Video
	if !video.Enabled() || !video.Inited {
		return
	}
	pts := p.video.CurrentPTS()
	if pts == message.NoPTS || pts == p.lastVideoPTS {
		return
	}
	p.lastVideoPTS = pts

	clk := p.clock.GetClock()
	lag := clk - pts
	if speed < 0 {
		lag = -lag
	}
	if lag <= catchUpThreshold || !p.catchUpLimiter.Allow() {
		return
	}

	target := clk + catchUpLead*time.Duration(speed)/clock.SpeedNormal
	p.sampled.DebugWithCategory(logger.CategorySeek, "Seeking to catch up", map[string]interface{}{
		"clock":  clk,
		"video":  pts,
		"target": target,
	})
	metrics.IncrementSeek("catch_up")
	p.post(message.Seek{
		Time:      target,
		Backward:  speed < 0,
		Flush:     true,
		Accurate:  false,
		Restore:   false,
		Trickplay: true,
	})
}
