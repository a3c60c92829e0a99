package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/playcore/internal/bookmark"
	"github.com/zsiec/playcore/internal/clock"
	"github.com/zsiec/playcore/internal/demux"
	"github.com/zsiec/playcore/internal/edl"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
	"github.com/zsiec/playcore/internal/metrics"
	"github.com/zsiec/playcore/internal/queue"
)

const (
	// gateInterval is how long the demux loop backs off while a consumer
	// cannot take more data.
	gateInterval = 10 * time.Millisecond

	// drainInterval is the poll interval while consumers drain after the
	// end of the source.
	drainInterval = 100 * time.Millisecond

	defaultMaxSubtitles = 5
)

var errSourcePanic = errors.New("source panicked")

func newSessionID() string {
	return uuid.NewString()
}

// loadEDL looks for an edit list next to local files.
func (p *Player) loadEDL(item string) {
	p.seek.Clear()
	p.coordinator.SetEDL(nil)

	if !p.cfg.EDL.Autoload || !demux.IsLocalFile(item) {
		return
	}
	list, path, err := edl.LoadForMedia(item)
	if err != nil {
		if !errors.Is(err, edl.ErrNoEDL) {
			p.logger.WithError(err).WithField("item", item).Warn("Failed to load edit list")
		}
		return
	}
	p.seek.SetEDL(list)
	p.coordinator.SetEDL(list)
	p.logger.WithFields(map[string]interface{}{
		"path":    path,
		"cuts":    len(list.Cuts()),
		"scenes":  len(list.SceneMarkers()),
		"cut_sum": list.TotalCutTime(),
	}).Info("Loaded edit list")
}

// openSource runs the opener, turning a panic into an error.
func (p *Player) openSource(ctx context.Context) (src demux.Source, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Recovered panic while opening source")
			src, err = nil, fmt.Errorf("%w: %v", errSourcePanic, r)
		}
	}()
	return p.opener.Open(ctx, p.item)
}

// process is the demux goroutine. It opens the source, signals ready and
// then feeds the consumers until the source ends or the session closes.
func (p *Player) process(ctx context.Context, ready chan<- error) error {
	metrics.IncrementGoroutineCreated("process")
	defer metrics.IncrementGoroutineDestroyed("process")

	src, err := p.openSource(ctx)
	if err == nil && ctx.Err() != nil {
		src.Close()
		err = ctx.Err()
	}
	if err != nil {
		metrics.SessionFailed()
		if !p.opts.Identify {
			p.callback.OnPlayBackStopped()
		}
		ready <- err
		return nil
	}
	if !p.setSource(src) {
		src.Close()
		ready <- context.Canceled
		return nil
	}
	p.src = src

	p.setStreams(src.Streams())
	p.selectDefaultStreams()
	p.updateProgress()

	start := p.opts.StartTime
	if p.opts.Resume {
		if b, ok := p.loadBookmark(ctx); ok {
			start = p.seek.RestoreCutTime(b.Time)
			if b.PlayerState != "" {
				p.applyPlayerState(ctx, b.PlayerState, false)
			}
		}
	}
	if start > 0 {
		if err := src.Seek(ctx, start, true); err != nil {
			p.logger.WithError(err).WithField("start", start).Warn("Failed to seek to start time")
		} else {
			p.coordinator.ResetStreams(start)
		}
	}

	p.SetCaching(CacheInit)
	p.opened.Store(true)
	metrics.SessionOpened()
	ready <- nil

	p.logger.WithFields(map[string]interface{}{
		"item":    p.item,
		"streams": len(src.Streams()),
		"total":   src.Duration(),
		"start":   start,
	}).Info("Playback started")
	if !p.opts.Identify {
		p.callback.OnPlayBackStarted()
	}

	defer p.onExit()
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Recovered panic in demux loop")
			p.aborted.Store(true)
		}
	}()

	return p.run(ctx)
}

func (p *Player) loadBookmark(ctx context.Context) (bookmark.Bookmark, bool) {
	if p.bookmarks == nil {
		return bookmark.Bookmark{}, false
	}
	b, err := p.bookmarks.Load(ctx, p.item)
	if err != nil {
		if !errors.Is(err, bookmark.ErrNotFound) {
			p.logger.WithError(err).Warn("Failed to load bookmark")
		}
		return bookmark.Bookmark{}, false
	}
	return b, true
}

// selectDefaultStreams enables the first stream of each type.
func (p *Player) selectDefaultStreams() {
	for _, current := range p.coordinator.Streams() {
		current.Clear()
		if list := p.streamsOfType(current.Type); len(list) > 0 {
			current.ID = list[0].Index
			switch current.Type {
			case message.StreamAudio:
				p.audioIndex.Store(0)
			case message.StreamSubtitle:
				p.subtitleIndex.Store(0)
			}
		}
	}
}

// onExit runs when the demux loop returns.
func (p *Player) onExit() {
	p.SetCaching(CacheDone)
	for _, c := range p.consumers() {
		c.queue.Abort()
	}
	if src := p.takeSource(); src != nil {
		if err := src.Close(); err != nil {
			p.logger.WithError(err).Debug("Failed to close source")
		}
	}

	aborted := p.aborted.Load()
	result := "ended"
	if aborted {
		result = "stopped"
	}
	p.logger.WithField("result", result).Info("Playback finished")

	if !p.opts.Identify {
		if aborted {
			p.callback.OnPlayBackStopped()
		} else {
			p.callback.OnPlayBackEnded()
		}
	}

	if !aborted && p.bookmarks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.bookmarks.Delete(ctx, p.item); err != nil && !errors.Is(err, bookmark.ErrNotFound) {
			p.logger.WithError(err).Warn("Failed to delete bookmark")
		}
	}
	metrics.SessionClosed(result)
}

// run is the demux loop.
func (p *Player) run(ctx context.Context) error {
	for {
		if ctx.Err() != nil || p.aborted.Load() {
			return nil
		}

		p.handleMessages(ctx)
		p.handlePlaySpeed()
		p.seek.CheckAutoSceneSkip(p.coordinator.Audio, p.coordinator.Video)

		if p.eof {
			// seeks are still served while the consumers drain
			if p.audio.HasData() || p.video.HasData() {
				if !sleepContext(ctx, drainInterval) {
					return nil
				}
				continue
			}
			p.ended.Store(true)
			return nil
		}

		if p.isGated() {
			p.gated = true
			if !sleepContext(ctx, gateInterval) {
				return nil
			}
			continue
		}
		p.gated = false

		pkt, err := p.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, demux.ErrClosed) {
				return nil
			}
			if !errors.Is(err, io.EOF) {
				p.logger.WithError(err).Warn("Source read failed, treating as end of file")
			}
			p.handleEOF()
			continue
		}

		p.processPacket(pkt)
		p.updateProgress()
	}
}

// isGated reports whether a consumer cannot take more data right now.
func (p *Player) isGated() bool {
	if p.coordinator.Audio.Enabled() && !p.audio.AcceptsData() {
		return true
	}
	if p.coordinator.Video.Enabled() && !p.video.AcceptsData() {
		return true
	}
	maxSubs := p.cfg.MaxSubtitles
	if maxSubs <= 0 {
		maxSubs = defaultMaxSubtitles
	}
	return p.coordinator.Subtitle.Enabled() && p.overlays.Size() >= maxSubs
}

func (p *Player) handleEOF() {
	if p.eof {
		return
	}
	for _, current := range p.coordinator.Streams() {
		if current.Inited {
			p.coordinator.SendPlayerMessage(message.EndOfStream{}, current.Type)
		}
		current.Inited = false
		current.Started = false
	}
	p.SetCaching(CacheDone)
	p.eof = true
	p.logger.Info("End of source reached")
}

func (p *Player) updateProgress() {
	p.totalTime.Store(int64(p.src.Duration()))
	if cs, ok := p.src.(demux.ChapterSource); ok {
		p.chapterCount.Store(int32(cs.ChapterCount()))
		p.chapter.Store(int32(cs.Chapter()))
	}
}

// processPacket routes one packet to its consumer.
func (p *Player) processPacket(pkt *message.Packet) {
	current := p.coordinator.Stream(pkt.StreamType)
	if current == nil || !current.Enabled() || current.ID != pkt.StreamIndex {
		return
	}
	metrics.IncrementDemuxed(current.Type.String())

	isAV := current.Type == message.StreamAudio || current.Type == message.StreamVideo
	if isAV {
		p.checkStartCaching(current)
		p.coordinator.CheckContinuity(current, pkt)
	}

	current.updateTimestamps(pkt)

	drop := p.coordinator.CheckPlayerInit(current)
	if p.coordinator.CheckSceneSkip(current) {
		if !drop {
			metrics.IncrementDropped(current.Type.String(), "edl_cut")
		}
		drop = true
	} else if current.Type == message.StreamAudio {
		if silence, ok := p.seek.checkMute(current.DTS); ok {
			p.coordinator.SendPlayerMessage(silence, current.Type)
		}
	}

	pkt.Drop = drop
	c := p.consumerFor(current.Type)
	if err := c.SendMessage(pkt, 0); err != nil {
		if errors.Is(err, queue.ErrTimeout) {
			p.sampled.WarnWithCategory(logger.CategoryBackpressure, "Consumer queue full, packet discarded", map[string]interface{}{
				"stream": current.Type.String(),
				"level":  c.queue.Level(),
			})
			metrics.IncrementDropped(current.Type.String(), "queue_full")
		}
	}
}

// handleMessages drains the messenger without blocking.
func (p *Player) handleMessages(ctx context.Context) {
	for {
		msg, _, err := p.messenger.Get(0)
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case message.Seek:
			p.handleSeek(ctx, m)
		case message.SeekChapter:
			p.handleSeekChapter(ctx, m)
		case message.SetSpeed:
			p.handleSetSpeed(m)
		case message.SetState:
			p.applyPlayerState(ctx, m.State, true)
		case message.SelectStream:
			p.handleSelectStream(ctx, m)
		case message.Started:
			if current := p.coordinator.Stream(m.Source); current != nil {
				current.Started = true
				p.logger.WithField("stream", m.Source.String()).Debug("Stream started")
			}
		case message.Synchronize:
			m.Barrier.Release()
		default:
			p.logger.WithField("kind", msg.Kind().String()).Debug("Ignoring message")
		}
	}
}

func (p *Player) handleSeek(ctx context.Context, m message.Seek) {
	// only the latest of several queued seeks is worth doing
	if p.messenger.PacketCount(message.KindSeek) > 0 || p.messenger.PacketCount(message.KindSeekChapter) > 0 {
		p.logger.Debug("Skipping seek superseded by a newer request")
		p.seek.SeekCompleted()
		return
	}

	if !m.Trickplay && m.Flush {
		p.SetCaching(CacheInit)
	}

	t := m.Time
	if m.Restore {
		t = p.seek.RestoreCutTime(t)
	}
	t = max(t, 0)

	fields := map[string]interface{}{
		"time":     t,
		"backward": m.Backward,
		"flush":    m.Flush,
		"accurate": m.Accurate,
	}
	if err := p.src.Seek(ctx, t, m.Backward); err != nil {
		p.logger.WithError(err).WithFields(fields).Warn("Seek failed")
	} else {
		p.sampled.DebugWithCategory(logger.CategorySeek, "Seek", fields)
		p.FlushBuffers(ctx, !m.Flush, t, m.Accurate)
		p.eof = false
		p.ended.Store(false)
	}
	p.seek.SeekCompleted()
}

func (p *Player) handleSeekChapter(ctx context.Context, m message.SeekChapter) {
	cs, ok := p.src.(demux.ChapterSource)
	if !ok {
		p.logger.WithField("chapter", m.Chapter).Debug("Source has no chapters")
		return
	}

	p.SetCaching(CacheInit)
	start, err := cs.SeekChapter(ctx, m.Chapter)
	if err != nil {
		p.logger.WithError(err).WithField("chapter", m.Chapter).Warn("Chapter seek failed")
		return
	}
	metrics.IncrementSeek("chapter")
	p.FlushBuffers(ctx, false, start, true)
	p.eof = false
	p.ended.Store(false)
	p.chapter.Store(int32(m.Chapter))
	p.callback.OnPlayBackSeekChapter(m.Chapter)
}

func (p *Player) handleSetSpeed(m message.SetSpeed) {
	prev := p.Speed()
	p.playSpeed.Store(int32(m.Speed))

	p.cacheMu.Lock()
	p.caching = CacheDone
	p.cacheMu.Unlock()
	metrics.SetCacheState(int(CacheDone))

	p.clock.Pause(false)
	p.clock.SetSpeed(m.Speed)
	metrics.SetPlaySpeed(m.Speed)

	if prev != m.Speed && prev != clock.SpeedPause && m.Speed != clock.SpeedPause {
		p.callback.OnPlayBackSpeedChanged(m.Speed)
	}
	p.logger.WithFields(map[string]interface{}{
		"from": prev,
		"to":   m.Speed,
	}).Debug("Play speed changed")
}

func (p *Player) handleSelectStream(ctx context.Context, m message.SelectStream) {
	if !p.selectStream(m.Type, m.Index) {
		return
	}

	switch m.Type {
	case message.StreamAudio:
		// restart from the current point so the new audio starts in sync
		p.handleSeek(ctx, message.Seek{
			Time:      p.Time(),
			Backward:  true,
			Flush:     true,
			Accurate:  true,
			Restore:   true,
			Trickplay: true,
		})
	case message.StreamSubtitle:
		p.overlays.Clear()
	}
}

// selectStream points the stream state of typ at the index-th source
// stream of that type, or disables it for an index out of range. It
// reports whether the selection changed.
func (p *Player) selectStream(typ message.StreamType, index int) bool {
	current := p.coordinator.Stream(typ)
	if current == nil {
		return false
	}

	id := -1
	if list := p.streamsOfType(typ); index >= 0 && index < len(list) {
		id = list[index].Index
	}
	if id == current.ID {
		return false
	}

	p.coordinator.SendPlayerMessage(message.Reset{}, typ)
	current.Clear()
	current.ID = id
	p.logger.WithFields(map[string]interface{}{
		"stream": typ.String(),
		"index":  index,
		"id":     id,
	}).Info("Stream selected")
	return true
}

// applyPlayerState selects the streams of a saved state and, when seek is
// set, returns to its position.
func (p *Player) applyPlayerState(ctx context.Context, state string, seek bool) {
	var st playerState
	if err := json.Unmarshal([]byte(state), &st); err != nil {
		p.logger.WithError(err).Warn("Ignoring malformed player state")
		return
	}

	if st.Audio >= 0 && st.Audio < p.AudioStreamCount() {
		p.audioIndex.Store(int32(st.Audio))
		p.selectStream(message.StreamAudio, st.Audio)
	}
	if st.Subtitle >= -1 && st.Subtitle < p.SubtitleCount() {
		p.subtitleIndex.Store(int32(st.Subtitle))
		if p.selectStream(message.StreamSubtitle, st.Subtitle) {
			p.overlays.Clear()
		}
	}
	p.subtitleVisible.Store(st.SubtitleVisible)

	if seek {
		p.handleSeek(ctx, message.Seek{
			Time:     st.Time,
			Backward: true,
			Flush:    true,
			Accurate: true,
			Restore:  true,
		})
	}
}

// FlushBuffers discards everything buffered after a seek. A queued flush
// lets consumers play out what they hold and restart in sync; otherwise
// queues are emptied and the clock jumps to pts. It must be called from
// the demux goroutine; ctx or an abort ends the wait for consumers.
func (p *Player) FlushBuffers(ctx context.Context, queued bool, pts time.Duration, accurate bool) {
	startPTS := message.NoPTS
	if accurate {
		startPTS = pts
	}
	for _, current := range p.coordinator.Streams() {
		current.Inited = false
		current.DTS = message.NoPTS
		current.StartPTS = startPTS
	}

	if queued {
		for _, current := range p.coordinator.Streams() {
			p.coordinator.SendPlayerMessage(message.Reset{}, current.Type)
		}
		p.coordinator.SendPlayerMessage(message.NoSkip{}, message.StreamVideo)
		p.coordinator.SynchronizePlayers(p.cfg.SyncTimeout)
		return
	}

	for _, c := range p.consumers() {
		c.Flush()
	}
	p.overlays.Clear()

	// make sure the consumers reached the flush before the clock moves
	if speed := p.Speed(); speed == clock.SpeedNormal || speed == clock.SpeedPause {
		b := message.NewBarrier(p.cfg.FlushSyncTimeout)
		b.Acquire(2)
		p.audio.SendMessage(message.Synchronize{Barrier: b}, 1)
		p.video.SendMessage(message.Synchronize{Barrier: b}, 1)
		if err := p.waitBarrier(ctx, b); errors.Is(err, message.ErrTimeout) {
			metrics.IncrementBarrierTimeout("flush")
			p.logger.WithField("pending", b.Pending()).Debug("Consumers did not reach flush in time")
		}

		p.messenger.Flush(message.KindStarted)
		p.SetCaching(CacheInit)
		for _, current := range p.coordinator.Streams() {
			current.Started = false
		}
	}

	if pts != message.NoPTS {
		p.clock.Discontinuity(clock.DiscontinuityNormal, pts, 0)
		metrics.IncrementDiscontinuity(clock.DiscontinuityNormal.String())
	}
}

// waitBarrier waits for b until it resolves or times out, ctx ends, or
// the session is aborted.
func (p *Player) waitBarrier(ctx context.Context, b *message.Barrier) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	aborted := p.messenger.Aborted()
	go func() {
		select {
		case <-aborted:
			cancel()
		case <-ctx.Done():
		}
	}()
	return b.Wait(ctx)
}

// sleepContext sleeps for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
