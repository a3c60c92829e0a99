package player

import (
	"time"

	"github.com/zsiec/playcore/internal/clock"
	"github.com/zsiec/playcore/internal/edl"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
	"github.com/zsiec/playcore/internal/metrics"
)

const (
	// maxStartLag is how far a seek target may lie ahead of the demuxed
	// timestamps before the target is given up on.
	maxStartLag = 20 * time.Second

	// maxStartSkew is the largest start difference corrected with a delay.
	maxStartSkew = 2 * time.Second

	// Continuity thresholds for audio and video timestamps.
	maxBackwardJump = 100 * time.Millisecond
	maxForwardJump  = time.Second
)

// Sender delivers a message to the consumer of a stream.
type Sender interface {
	SendMessage(msg message.Message, target message.StreamType, priority int) error
}

// Coordinator aligns the start of playback across streams. It decides per
// packet whether the packet is shown, and tells consumers when to rebase
// their timing. All methods must be called from the demux goroutine.
type Coordinator struct {
	logger  logger.Logger
	sampled *logger.SampledLogger
	sender  Sender
	speed   func() int
	edl     *edl.List

	Audio    *CurrentStream
	Video    *CurrentStream
	Subtitle *CurrentStream
	Teletext *CurrentStream
}

// NewCoordinator creates a coordinator with every stream disabled. speed
// reports the current play speed.
func NewCoordinator(sender Sender, speed func() int, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	log = log.WithField("component", "coordinator")
	return &Coordinator{
		logger:   log,
		sampled:  logger.NewPlaybackLogger(log),
		sender:   sender,
		speed:    speed,
		Audio:    newCurrentStream(message.StreamAudio),
		Video:    newCurrentStream(message.StreamVideo),
		Subtitle: newCurrentStream(message.StreamSubtitle),
		Teletext: newCurrentStream(message.StreamTeletext),
	}
}

// SetEDL sets the edit list consulted by CheckSceneSkip.
func (c *Coordinator) SetEDL(l *edl.List) {
	c.edl = l
}

// Streams returns the four stream states in a fixed order.
func (c *Coordinator) Streams() []*CurrentStream {
	return []*CurrentStream{c.Audio, c.Video, c.Subtitle, c.Teletext}
}

// Stream returns the state for typ, or nil.
func (c *Coordinator) Stream(typ message.StreamType) *CurrentStream {
	switch typ {
	case message.StreamAudio:
		return c.Audio
	case message.StreamVideo:
		return c.Video
	case message.StreamSubtitle:
		return c.Subtitle
	case message.StreamTeletext:
		return c.Teletext
	}
	return nil
}

// Clear disables every stream.
func (c *Coordinator) Clear() {
	for _, s := range c.Streams() {
		s.Clear()
	}
}

// ResetStreams prepares every stream for a discontinuity. startPTS is the
// point packets are dropped up to, or NoPTS.
func (c *Coordinator) ResetStreams(startPTS time.Duration) {
	for _, s := range c.Streams() {
		s.Reset(startPTS)
	}
}

// SendPlayerMessage posts msg to the consumer of source.
func (c *Coordinator) SendPlayerMessage(msg message.Message, source message.StreamType) {
	c.sendPriority(msg, source, 0)
}

func (c *Coordinator) sendPriority(msg message.Message, source message.StreamType, priority int) {
	if err := c.sender.SendMessage(msg, source, priority); err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"stream": source.String(),
			"kind":   msg.Kind().String(),
		}).Warn("Failed to send message to consumer")
	}
}

// CheckPlayerInit runs before a packet of current is dispatched. It
// returns true when the packet must be decoded without being shown.
func (c *Coordinator) CheckPlayerInit(current *CurrentStream) bool {
	if current.StartPTS != message.NoPTS && current.DTS != message.NoPTS {
		if current.StartPTS-current.DTS > maxStartLag {
			c.logger.WithFields(map[string]interface{}{
				"stream":    current.Type.String(),
				"start_pts": current.StartPTS,
				"dts":       current.DTS,
			}).Debug("Too far to decode before finishing seek")
			for _, s := range c.Streams() {
				if s.StartPTS != message.NoPTS {
					s.StartPTS = current.DTS
				}
			}
		}

		if current.StartPTS <= current.DTS {
			c.logger.WithField("stream", current.Type.String()).Debug("Seek complete for stream")
			current.StartPTS = message.NoPTS
		}
	}

	if current.StartPTS != message.NoPTS {
		metrics.IncrementDropped(current.Type.String(), "start_pts")
		c.sampled.DebugWithCategory(logger.CategoryPacketDrop, "Dropping packet to reach start point", map[string]interface{}{
			"stream":    current.Type.String(),
			"dts":       current.DTS,
			"start_pts": current.StartPTS,
		})
		return true
	}

	if current.StartSync != nil {
		c.SendPlayerMessage(message.Synchronize{Barrier: current.StartSync}, current.Type)
		current.StartSync = nil
	}

	if !current.Inited && current.DTS != message.NoPTS {
		current.Inited = true
		current.StartPTS = current.DTS

		setClock := c.shouldSetClock(current)

		if skew := c.startSkew(current); skew > 0 {
			metrics.ObserveSkew(current.Type.String(), skew.Seconds())
			if skew > maxStartSkew {
				c.logger.WithFields(map[string]interface{}{
					"stream": current.Type.String(),
					"skew":   skew,
				}).Warn("Ignoring too large start delay")
			} else {
				c.SendPlayerMessage(message.Delay{Amount: skew}, current.Type)
			}
		}

		c.SendPlayerMessage(message.Resync{Timestamp: current.DTS, SetClock: setClock}, current.Type)
		metrics.IncrementResync(current.Type.String())
		c.sampled.DebugWithCategory(logger.CategorySync, "Stream inited", map[string]interface{}{
			"stream":    current.Type.String(),
			"dts":       current.DTS,
			"set_clock": setClock,
		})
	}
	return false
}

// shouldSetClock picks the stream driving the clock. At normal speed the
// first of audio and video to start wins; otherwise only video drives it.
func (c *Coordinator) shouldSetClock(current *CurrentStream) bool {
	if c.speed() == clock.SpeedNormal {
		switch current.Type {
		case message.StreamAudio:
			return !c.Video.Inited
		case message.StreamVideo:
			return !c.Audio.Inited
		}
		return false
	}
	return current.Type == message.StreamVideo
}

// startSkew is how much later current starts than the earliest of the
// other inited audio and video streams.
func (c *Coordinator) startSkew(current *CurrentStream) time.Duration {
	earliest := current.StartPTS
	for _, s := range []*CurrentStream{c.Audio, c.Video} {
		if s == current || !s.Inited || s.StartPTS == message.NoPTS {
			continue
		}
		earliest = min(earliest, s.StartPTS)
	}
	return current.StartPTS - earliest
}

// CheckSceneSkip reports whether the demux point of current lies inside an
// EDL cut, in which case the packet is not shown. Streams still seeking
// to a start point are left to CheckPlayerInit.
func (c *Coordinator) CheckSceneSkip(current *CurrentStream) bool {
	if !c.edl.HasCut() || current.DTS == message.NoPTS || current.StartPTS != message.NoPTS {
		return false
	}
	cut, ok := c.edl.InCut(current.DTS)
	return ok && cut.Action == edl.ActionCut
}

// CheckContinuity detects jumps in the audio or video timeline that were
// not caused by a seek. On a jump every stream is marked for resync.
func (c *Coordinator) CheckContinuity(current *CurrentStream, pkt *message.Packet) {
	if c.speed() < clock.SpeedPause || pkt.DTS == message.NoPTS {
		return
	}
	if current.Type != message.StreamAudio && current.Type != message.StreamVideo {
		return
	}

	var minDTS, maxDTS time.Duration
	switch {
	case c.Audio.DTS == message.NoPTS:
		minDTS, maxDTS = c.Video.DTS, c.Video.DTS
	case c.Video.DTS == message.NoPTS:
		minDTS, maxDTS = c.Audio.DTS, c.Audio.DTS
	default:
		minDTS, maxDTS = min(c.Audio.DTS, c.Video.DTS), max(c.Audio.DTS, c.Video.DTS)
	}
	if minDTS == message.NoPTS || !current.Inited {
		return
	}

	fields := map[string]interface{}{
		"stream": current.Type.String(),
		"prev":   current.DTS,
		"curr":   pkt.DTS,
	}
	switch {
	case pkt.DTS < minDTS-maxBackwardJump:
		c.logger.WithFields(fields).Warn("Timestamps jumped backward, resyncing")
	case pkt.DTS > maxDTS+maxForwardJump:
		c.logger.WithFields(fields).Warn("Timestamps jumped forward, resyncing")
	default:
		return
	}
	for _, s := range c.Streams() {
		s.Inited = false
	}
}

// SynchronizePlayers hands audio and video a shared barrier they release
// on their next packet. It does nothing while an earlier barrier is still
// being handed out.
func (c *Coordinator) SynchronizePlayers(timeout time.Duration) *message.Barrier {
	for _, s := range c.Streams() {
		if s.StartSync != nil {
			c.logger.WithField("stream", s.Type.String()).Debug("Synchronize already pending")
			return nil
		}
	}

	b := message.NewBarrier(timeout)
	for _, s := range []*CurrentStream{c.Audio, c.Video} {
		if !s.Enabled() {
			continue
		}
		b.Acquire(1)
		s.StartSync = b
	}
	return b
}
