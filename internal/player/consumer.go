package player

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/zsiec/playcore/internal/clock"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
	"github.com/zsiec/playcore/internal/metrics"
	"github.com/zsiec/playcore/internal/overlay"
	"github.com/zsiec/playcore/internal/queue"
)

const (
	// paceStep bounds each sleep while waiting for a presentation time so
	// control messages are noticed quickly.
	paceStep = 20 * time.Millisecond

	// maxPaceWait is the largest gap between clock and timestamp that is
	// waited out. Larger gaps mean the clock is about to be rebased.
	maxPaceWait = 10 * time.Second

	// lateThreshold is how far behind the clock a video frame may be
	// before it counts as late.
	lateThreshold = 500 * time.Millisecond
)

// consumer is the decode task of one stream. It only talks to the rest of
// the player through its queue, the shared clock, the overlay container
// and the messages it posts back to the demux loop.
type consumer struct {
	typ      message.StreamType
	queue    *queue.Queue
	decoder  Decoder
	clock    *clock.Clock
	overlays *overlay.Container
	logger   logger.Logger
	sampled  *logger.SampledLogger

	// notify posts a message to the demux loop
	notify func(message.Message)

	pace bool
	poll time.Duration

	speed   atomic.Int32
	stalled atomic.Bool
	eos     atomic.Bool
	muted   atomic.Bool
	offset  atomic.Int64 // output delay, applied to timestamps
	lastPTS atomic.Int64

	// decode goroutine only
	started bool
	noSkip  bool
}

func newConsumer(typ message.StreamType, q *queue.Queue, dec Decoder, clk *clock.Clock, overlays *overlay.Container, log logger.Logger) *consumer {
	c := &consumer{
		typ:      typ,
		queue:    q,
		decoder:  dec,
		clock:    clk,
		overlays: overlays,
		logger:   log.WithField("stream", typ.String()),
		poll:     100 * time.Millisecond,
		notify:   func(message.Message) {},
	}
	c.sampled = logger.NewPlaybackLogger(c.logger)
	c.speed.Store(clock.SpeedNormal)
	c.lastPTS.Store(int64(message.NoPTS))
	return c
}

// SendMessage queues msg for the consumer.
func (c *consumer) SendMessage(msg message.Message, priority int) error {
	return c.queue.Put(msg, priority)
}

// Flush drops everything queued and asks the decoder to flush.
func (c *consumer) Flush() {
	c.queue.Flush(message.KindNone)
	if err := c.queue.Put(message.Flush{}, 1); err != nil {
		c.logger.WithError(err).Debug("Failed to queue flush")
	}
}

// SetSpeed takes effect when the consumer reaches the message. The value is
// stored right away so paused consumers switch to control-only reads.
func (c *consumer) SetSpeed(speed int) {
	c.speed.Store(int32(speed))
	if err := c.queue.Put(message.SetSpeed{Speed: speed}, 1); err != nil {
		c.logger.WithError(err).Debug("Failed to queue speed change")
	}
}

// AcceptsData reports whether the queue has room for more packets.
func (c *consumer) AcceptsData() bool {
	return c.queue.Level() < 100
}

// HasData reports whether anything is still queued.
func (c *consumer) HasData() bool {
	return c.queue.Len() > 0
}

// IsStalled reports whether the consumer ran out of packets.
func (c *consumer) IsStalled() bool {
	return c.stalled.Load()
}

// CurrentPTS is the timestamp of the last packet that produced output.
func (c *consumer) CurrentPTS() time.Duration {
	return time.Duration(c.lastPTS.Load())
}

func (c *consumer) SetOffset(d time.Duration) {
	c.offset.Store(int64(d))
}

func (c *consumer) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// reset is called between sessions while no goroutine runs.
func (c *consumer) reset() {
	c.started = false
	c.noSkip = false
	c.stalled.Store(false)
	c.eos.Store(false)
	c.muted.Store(false)
	c.speed.Store(clock.SpeedNormal)
	c.lastPTS.Store(int64(message.NoPTS))
	c.decoder.Flush()
}

// run consumes messages until the queue is aborted or ctx ends.
func (c *consumer) run(ctx context.Context) error {
	component := "consumer_" + c.typ.String()
	metrics.IncrementGoroutineCreated(component)
	defer metrics.IncrementGoroutineDestroyed(component)

	for {
		if ctx.Err() != nil {
			metrics.IncrementContextCancellation(component, "session_closed")
			return nil
		}

		var (
			msg message.Message
			err error
		)
		if c.speed.Load() == clock.SpeedPause {
			msg, _, err = c.queue.GetControl(c.poll)
		} else {
			msg, _, err = c.queue.Get(c.poll)
		}

		switch {
		case err == nil:
		case errors.Is(err, queue.ErrTimeout):
			c.idle()
			continue
		case errors.Is(err, queue.ErrAborted), errors.Is(err, queue.ErrNotInitialized):
			return nil
		default:
			return err
		}

		if err := c.handle(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (c *consumer) idle() {
	if c.speed.Load() != clock.SpeedPause && c.queue.IsEmptied() {
		c.stalled.Store(true)
	}
	if c.typ == message.StreamSubtitle && c.overlays != nil {
		c.overlays.CleanUp(c.clock.GetClock() - c.Offset())
	}
}

func (c *consumer) handle(ctx context.Context, msg message.Message) error {
	switch m := msg.(type) {
	case *message.Packet:
		c.handlePacket(ctx, m)

	case message.Flush:
		c.decoder.Flush()
		c.started = false
		c.stalled.Store(true)

	case message.Reset:
		c.decoder.Flush()
		c.started = false

	case message.Synchronize:
		m.Barrier.Release()
		if err := m.Barrier.Wait(ctx); err != nil {
			if errors.Is(err, message.ErrAborted) {
				return context.Canceled
			}
			metrics.IncrementBarrierTimeout(c.typ.String())
			c.logger.WithField("timeout", m.Barrier.Timeout()).Debug("Synchronize barrier timed out")
		}

	case message.Resync:
		c.noSkip = false
		if m.SetClock {
			c.clock.Discontinuity(clock.DiscontinuityNormal, m.Timestamp, 0)
			metrics.IncrementDiscontinuity(clock.DiscontinuityNormal.String())
		}
		c.sampled.DebugWithCategory(logger.CategorySync, "Resync", map[string]interface{}{
			"timestamp": m.Timestamp,
			"set_clock": m.SetClock,
		})

	case message.Delay:
		return c.delay(ctx, m.Amount)

	case message.SetSpeed:
		c.speed.Store(int32(m.Speed))

	case message.NoSkip:
		c.noSkip = true

	case message.Silence:
		c.muted.Store(m.Enabled)

	case message.EndOfStream:
		c.eos.Store(true)
		c.logger.Debug("End of stream reached")

	default:
		c.logger.WithField("kind", msg.Kind().String()).Debug("Ignoring message")
	}
	return nil
}

func (c *consumer) handlePacket(ctx context.Context, pkt *message.Packet) {
	c.stalled.Store(false)
	c.eos.Store(false)

	if c.typ == message.StreamSubtitle {
		if off := c.Offset(); off != 0 {
			shifted := *pkt
			if shifted.PTS != message.NoPTS {
				shifted.PTS += off
			}
			pkt = &shifted
		}
	}

	produced, err := c.decoder.Decode(pkt)
	metrics.IncrementDecoded(c.typ.String())
	if err != nil {
		c.sampled.WarnWithCategory(logger.CategoryDecode, "Decode failed", map[string]interface{}{
			"error": err.Error(),
			"pts":   pkt.PTS,
		})
		return
	}
	if pkt.Drop {
		metrics.IncrementDropped(c.typ.String(), "decode_only")
	}
	if !produced {
		return
	}

	if !c.started {
		c.started = true
		c.notify(message.Started{Source: c.typ})
	}

	pts := pkt.PTS
	if pts == message.NoPTS {
		pts = pkt.DTS
	}
	if pts != message.NoPTS {
		c.lastPTS.Store(int64(pts))
		if c.pace && (c.typ == message.StreamAudio || c.typ == message.StreamVideo) {
			c.waitForPresentation(ctx, pts+c.Offset())
		}
	}
}

// waitForPresentation holds output until the clock reaches pts. It gives
// up on control messages, reverse playback and gaps too large to be real.
func (c *consumer) waitForPresentation(ctx context.Context, pts time.Duration) {
	now := c.clock.GetClock()
	if late := now - pts; late > lateThreshold && c.typ == message.StreamVideo && !c.noSkip {
		metrics.IncrementDropped(c.typ.String(), "late")
		c.sampled.DebugWithCategory(logger.CategoryPacing, "Late frame", map[string]interface{}{
			"pts":  pts,
			"late": late,
		})
		return
	}

	for {
		speed := int(c.speed.Load())
		if speed < 0 {
			return
		}
		wait := pts - c.clock.GetClock()
		if wait <= 0 || wait > maxPaceWait {
			return
		}
		if c.queue.HasControl() {
			return
		}

		step := paceStep
		if speed > clock.SpeedNormal {
			wait = wait * clock.SpeedNormal / time.Duration(speed)
		}
		step = min(step, wait)

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// delay sleeps for d of media time.
func (c *consumer) delay(ctx context.Context, d time.Duration) error {
	if speed := int(c.speed.Load()); speed != clock.SpeedPause && speed != clock.SpeedNormal {
		if speed < 0 {
			speed = -speed
		}
		d = d * clock.SpeedNormal / time.Duration(speed)
	}
	if d <= 0 {
		return nil
	}

	c.sampled.DebugWithCategory(logger.CategorySync, "Delaying output", map[string]interface{}{
		"delay": d,
	})

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}
