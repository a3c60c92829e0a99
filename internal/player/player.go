// Package player is the synchronization core of a media player. A demux
// goroutine reads packets from a source and routes them to one consumer
// per elementary stream. The consumers share a presentation clock, and
// the demux goroutine coordinates their start, seeking, trick play and
// edit list skips.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zsiec/playcore/internal/bookmark"
	"github.com/zsiec/playcore/internal/clock"
	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/demux"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
	"github.com/zsiec/playcore/internal/overlay"
	"github.com/zsiec/playcore/internal/queue"
)

var (
	// ErrNotOpen is returned by operations that need an open session
	ErrNotOpen = errors.New("player not open")

	// ErrInvalidStream is returned when a stream index is out of range
	ErrInvalidStream = errors.New("invalid stream index")

	// ErrInvalidState is returned for a malformed player state string
	ErrInvalidState = errors.New("invalid player state")
)

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Player) {
		if log != nil {
			p.logger = log
		}
	}
}

// WithClock replaces the presentation clock.
func WithClock(c *clock.Clock) Option {
	return func(p *Player) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithOpener sets how items are turned into packet sources.
func WithOpener(o demux.Opener) Option {
	return func(p *Player) {
		if o != nil {
			p.opener = o
		}
	}
}

// WithDecoders sets the decode backend factory.
func WithDecoders(f DecoderFactory) Option {
	return func(p *Player) {
		if f != nil {
			p.decoders = f
		}
	}
}

// WithBookmarks enables saving and resuming positions.
func WithBookmarks(s bookmark.Store) Option {
	return func(p *Player) {
		p.bookmarks = s
	}
}

// WithCallback sets the receiver of playback events.
func WithCallback(cb Callback) Option {
	return func(p *Player) {
		if cb != nil {
			p.callback = cb
		}
	}
}

// OpenOptions control how an item is opened.
type OpenOptions struct {
	// StartTime is the title time playback starts at.
	StartTime time.Duration
	// Identify opens the item without reporting playback events.
	Identify bool
	// Resume starts from the saved bookmark, when there is one.
	Resume bool
}

// Player plays one item at a time. Methods are safe for concurrent use
// unless noted otherwise.
type Player struct {
	cfg       config.PlayerConfig
	logger    logger.Logger
	sampled   *logger.SampledLogger
	clock     *clock.Clock
	opener    demux.Opener
	decoders  DecoderFactory
	bookmarks bookmark.Store
	callback  Callback

	messenger *queue.Queue
	overlays  *overlay.Container

	audio    *consumer
	video    *consumer
	subtitle *consumer
	teletext *consumer

	coordinator    *Coordinator
	seek           *SeekEngine
	catchUpLimiter *rate.Limiter

	// session lifecycle, guarded by sessionMu
	sessionMu sync.Mutex
	cancel    context.CancelFunc
	group     *errgroup.Group
	item      string
	sessionID string
	opts      OpenOptions

	// sourceMu guards handing the source over between the demux goroutine
	// and Close
	sourceMu sync.Mutex
	closable demux.Source

	open    atomic.Bool
	opened  atomic.Bool
	aborted atomic.Bool
	ended   atomic.Bool

	// values published by the demux goroutine
	playSpeed    atomic.Int32
	totalTime    atomic.Int64
	chapter      atomic.Int32
	chapterCount atomic.Int32

	streamsMu       sync.RWMutex
	streams         []demux.StreamInfo
	audioIndex      atomic.Int32
	subtitleIndex   atomic.Int32
	subtitleVisible atomic.Bool

	cacheMu sync.Mutex
	caching CacheState

	// demux goroutine only
	src          demux.Source
	eof          bool
	gated        bool
	lastVideoPTS time.Duration
}

// New creates a player. Nothing is opened until Open is called.
func New(cfg config.PlayerConfig, opts ...Option) *Player {
	p := &Player{
		cfg:      cfg,
		logger:   logger.NewNullLogger(),
		clock:    clock.New(),
		decoders: DefaultDecoders,
		callback: NopCallback{},
		overlays: overlay.NewContainer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("component", "player")
	p.sampled = logger.NewPlaybackLogger(p.logger)
	if p.opener == nil {
		p.opener = demux.NewOpener(config.SourceConfig{}, p.logger)
	}

	p.messenger = queue.New("messenger", 0, p.logger)
	p.audio = p.newConsumer(message.StreamAudio, cfg.AudioQueueSize)
	p.video = p.newConsumer(message.StreamVideo, cfg.VideoQueueSize)
	p.subtitle = p.newConsumer(message.StreamSubtitle, cfg.SubtitleQueueSize)
	p.teletext = p.newConsumer(message.StreamTeletext, cfg.TeletextQueueSize)

	p.coordinator = NewCoordinator(SenderFunc(p.sendToConsumer), p.Speed, p.logger)
	p.seek = newSeekEngine(p, cfg, p.logger)

	interval := cfg.CatchUpInterval
	if interval <= 0 {
		interval = time.Second
	}
	p.catchUpLimiter = rate.NewLimiter(rate.Every(interval), 1)

	p.playSpeed.Store(clock.SpeedNormal)
	p.audioIndex.Store(-1)
	p.subtitleIndex.Store(-1)
	p.subtitleVisible.Store(true)
	return p
}

func (p *Player) newConsumer(typ message.StreamType, size int) *consumer {
	q := queue.New(typ.String(), size, p.logger)
	if p.cfg.QueueTimeTarget > 0 {
		q.SetTimeTarget(p.cfg.QueueTimeTarget)
	}
	if p.cfg.PutTimeout > 0 {
		q.SetPutTimeout(p.cfg.PutTimeout)
	}

	c := newConsumer(typ, q, p.decoders(typ, p.overlays), p.clock, p.overlays, p.logger)
	c.pace = p.cfg.PaceOutput
	if p.cfg.PollInterval > 0 {
		c.poll = p.cfg.PollInterval
	}
	c.notify = p.post
	return c
}

func (p *Player) consumers() []*consumer {
	return []*consumer{p.audio, p.video, p.subtitle, p.teletext}
}

func (p *Player) consumerFor(typ message.StreamType) *consumer {
	switch typ {
	case message.StreamAudio:
		return p.audio
	case message.StreamVideo:
		return p.video
	case message.StreamSubtitle:
		return p.subtitle
	case message.StreamTeletext:
		return p.teletext
	}
	return nil
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(msg message.Message, target message.StreamType, priority int) error

func (f SenderFunc) SendMessage(msg message.Message, target message.StreamType, priority int) error {
	return f(msg, target, priority)
}

func (p *Player) sendToConsumer(msg message.Message, target message.StreamType, priority int) error {
	if target == message.StreamNone {
		return p.messenger.Put(msg, priority)
	}
	c := p.consumerFor(target)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrInvalidStream, target)
	}
	return c.SendMessage(msg, priority)
}

// SendMessage delivers msg to the consumer of target, or to the demux loop
// for message.StreamNone. Decode backends use it to report back.
func (p *Player) SendMessage(msg message.Message, target message.StreamType) error {
	if !p.open.Load() {
		return ErrNotOpen
	}
	return p.sendToConsumer(msg, target, 0)
}

// post queues msg for the demux loop.
func (p *Player) post(msg message.Message) {
	if err := p.messenger.Put(msg, 0); err != nil {
		p.logger.WithError(err).WithField("kind", msg.Kind().String()).Debug("Failed to post message")
	}
}

// Open starts playback of item and waits until the source is open. It
// closes any session already open.
func (p *Player) Open(item string, opts OpenOptions) bool {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()

	p.closeLocked()

	p.item = item
	p.opts = opts
	p.sessionID = newSessionID()
	p.aborted.Store(false)
	p.ended.Store(false)
	p.opened.Store(false)
	p.eof = false
	p.gated = false
	p.lastVideoPTS = message.NoPTS
	p.playSpeed.Store(clock.SpeedNormal)
	p.totalTime.Store(0)
	p.chapter.Store(0)
	p.chapterCount.Store(0)
	p.setStreams(nil)
	p.audioIndex.Store(-1)
	p.subtitleIndex.Store(-1)

	p.cacheMu.Lock()
	p.caching = CacheDone
	p.cacheMu.Unlock()

	p.clock.SetSpeed(clock.SpeedNormal)
	p.clock.Pause(false)
	p.clock.Discontinuity(clock.DiscontinuityAbsolute, 0, 0)

	p.messenger.Init()
	for _, c := range p.consumers() {
		c.queue.Init()
		c.reset()
	}
	p.overlays.Clear()
	p.coordinator.Clear()
	p.loadEDL(item)

	log := logger.WithSession(p.logger, p.sessionID).WithField("item", item)
	log.Info("Opening item")

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	p.cancel = cancel
	p.group = g
	p.open.Store(true)

	for _, c := range p.consumers() {
		g.Go(func() error { return c.run(gctx) })
	}

	ready := make(chan error, 1)
	g.Go(func() error { return p.process(gctx, ready) })

	timeout := p.cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err != nil {
			log.WithError(err).Error("Failed to open item")
			p.closeLocked()
			return false
		}
	case <-timer.C:
		log.WithField("timeout", timeout).Error("Timed out opening item")
		p.closeLocked()
		return false
	}
	return true
}

// Close stops playback and releases the session. It reports whether a
// session was open.
func (p *Player) Close() bool {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()
	return p.closeLocked()
}

func (p *Player) closeLocked() bool {
	if p.group == nil {
		return false
	}

	p.aborted.Store(true)
	p.cancel()
	p.messenger.Abort()
	for _, c := range p.consumers() {
		c.queue.Abort()
	}
	if src := p.takeSource(); src != nil {
		if err := src.Close(); err != nil {
			p.logger.WithError(err).Debug("Failed to close source")
		}
	}

	if err := p.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.WithError(err).Warn("Playback stopped with error")
	}

	if p.opened.Load() && !p.ended.Load() && !p.opts.Identify {
		p.saveBookmark()
	}

	p.messenger.End()
	for _, c := range p.consumers() {
		c.queue.End()
	}
	p.overlays.Clear()
	p.seek.Clear()
	p.coordinator.SetEDL(nil)
	p.coordinator.Clear()

	p.group = nil
	p.cancel = nil
	p.open.Store(false)
	p.logger.WithField("item", p.item).Info("Closed item")
	return true
}

// setSource publishes the open source so Close can interrupt reads. It
// refuses once Close has started.
func (p *Player) setSource(src demux.Source) bool {
	p.sourceMu.Lock()
	defer p.sourceMu.Unlock()
	if p.aborted.Load() {
		return false
	}
	p.closable = src
	return true
}

// takeSource hands the source to whoever closes it.
func (p *Player) takeSource() demux.Source {
	p.sourceMu.Lock()
	defer p.sourceMu.Unlock()
	src := p.closable
	p.closable = nil
	return src
}

func (p *Player) saveBookmark() {
	if p.bookmarks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := bookmark.Bookmark{
		Item:        p.item,
		Time:        p.Time(),
		Total:       p.TotalTime(),
		PlayerState: p.PlayerState(),
		SavedAt:     time.Now(),
	}
	if err := p.bookmarks.Save(ctx, b); err != nil {
		p.logger.WithError(err).WithField("item", p.item).Warn("Failed to save bookmark")
		return
	}
	p.logger.WithFields(map[string]interface{}{
		"item": p.item,
		"time": b.Time,
	}).Debug("Saved bookmark")
}

// IsOpen reports whether a session is open.
func (p *Player) IsOpen() bool {
	return p.open.Load()
}

// Item returns the item of the current session.
func (p *Player) Item() string {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()
	return p.item
}

// Pause toggles between paused and normal speed. While refilling queues
// it ends caching instead.
func (p *Player) Pause() {
	if p.Speed() != clock.SpeedPause && p.CacheState() == CacheFull {
		p.SetCaching(CacheDone)
		return
	}

	if p.IsPaused() {
		p.SetSpeed(clock.SpeedNormal)
		p.callback.OnPlayBackResumed()
	} else {
		p.SetSpeed(clock.SpeedPause)
		p.callback.OnPlayBackPaused()
	}
}

// IsPaused reports a user pause or a refill in progress.
func (p *Player) IsPaused() bool {
	return p.Speed() == clock.SpeedPause || p.CacheState() == CacheFull
}

// SetSpeed changes the play speed, in thousandths of normal. Negative
// speeds rewind.
func (p *Player) SetSpeed(speed int) {
	p.post(message.SetSpeed{Speed: speed})
	p.audio.SetSpeed(speed)
	p.video.SetSpeed(speed)
	p.SynchronizeDemuxer(p.cfg.DemuxerSyncTimeout)
}

// ToFFRW sets a whole multiple of normal speed.
func (p *Player) ToFFRW(multiple int) {
	p.SetSpeed(multiple * clock.SpeedNormal)
}

// Speed returns the play speed as last applied by the demux loop.
func (p *Player) Speed() int {
	return int(p.playSpeed.Load())
}

func (p *Player) rawClock() time.Duration {
	return p.clock.GetClock()
}

// Time is the playback time, excluding cut regions.
func (p *Player) Time() time.Duration {
	return max(p.seek.RemoveCutTime(p.clock.GetClock()), 0)
}

// TotalTime is the title length excluding cut regions, or 0 if unknown.
func (p *Player) TotalTime() time.Duration {
	total := time.Duration(p.totalTime.Load())
	if total <= 0 {
		return 0
	}
	return max(total-p.seek.TotalCutTime(), 0)
}

// Percentage is the playback position relative to the title length.
func (p *Player) Percentage() float64 {
	pct := percentage(p.Time(), p.TotalTime())
	return min(pct, 100)
}

func (p *Player) Chapter() int {
	return int(p.chapter.Load())
}

func (p *Player) ChapterCount() int {
	return int(p.chapterCount.Load())
}

// Seek steps forward or backward. See SeekEngine.Seek.
func (p *Player) Seek(forward, large bool) {
	p.seek.Seek(forward, large)
}

// SeekTime seeks accurately to t.
func (p *Player) SeekTime(t time.Duration) {
	p.seek.SeekTime(t)
}

// SeekPercentage seeks to pct of the title.
func (p *Player) SeekPercentage(pct float64) {
	p.seek.SeekPercentage(pct)
}

// SeekScene jumps to the next scene marker.
func (p *Player) SeekScene(forward bool) error {
	return p.seek.SeekScene(forward)
}

// SeekChapter jumps to chapter n. Sources without chapters get a large
// step in the chapter's direction instead.
func (p *Player) SeekChapter(chapter int) bool {
	return p.seekChapter(chapter)
}

func (p *Player) seekChapter(chapter int) bool {
	count := p.ChapterCount()
	if count > 0 {
		chapter = max(chapter, 0)
		if chapter > count {
			return false
		}
		p.post(message.SeekChapter{Chapter: chapter})
		p.SynchronizeDemuxer(p.cfg.DemuxerSyncTimeout)
		return true
	}

	p.seek.Seek(chapter > p.Chapter(), true)
	return true
}

func (p *Player) notifySeek(t, offset time.Duration) {
	p.callback.OnPlayBackSeek(t, offset)
}

// SeekEngine exposes the seek engine for diagnostics.
func (p *Player) SeekEngine() *SeekEngine {
	return p.seek
}

// SynchronizeDemuxer waits until the demux loop handled everything posted
// so far, or timeout passes. It must not be called from the demux loop.
func (p *Player) SynchronizeDemuxer(timeout time.Duration) {
	if !p.messenger.IsInitialized() || p.messenger.IsAborted() {
		return
	}
	b := message.NewBarrier(timeout)
	b.Acquire(1)
	if err := p.messenger.Put(message.Synchronize{Barrier: b}, 0); err != nil {
		return
	}
	if err := p.waitBarrier(context.Background(), b); err != nil {
		p.logger.WithError(err).WithField("timeout", timeout).Debug("Demuxer did not synchronize")
	}
}

func (p *Player) setStreams(streams []demux.StreamInfo) {
	p.streamsMu.Lock()
	defer p.streamsMu.Unlock()
	p.streams = streams
}

func (p *Player) streamsOfType(typ message.StreamType) []demux.StreamInfo {
	p.streamsMu.RLock()
	defer p.streamsMu.RUnlock()
	return demux.StreamsOfType(p.streams, typ)
}

// Streams lists the elementary streams of the open source.
func (p *Player) Streams() []demux.StreamInfo {
	p.streamsMu.RLock()
	defer p.streamsMu.RUnlock()
	return append([]demux.StreamInfo(nil), p.streams...)
}

func (p *Player) AudioStreamCount() int {
	return len(p.streamsOfType(message.StreamAudio))
}

// AudioStream is the index of the selected audio stream among the audio
// streams, or -1.
func (p *Player) AudioStream() int {
	return int(p.audioIndex.Load())
}

// SetAudioStream switches audio. Playback re-seeks to the current time so
// the new stream starts in sync.
func (p *Player) SetAudioStream(i int) error {
	if i < 0 || i >= p.AudioStreamCount() {
		return fmt.Errorf("%w: audio %d", ErrInvalidStream, i)
	}
	p.audioIndex.Store(int32(i))
	p.post(message.SelectStream{Type: message.StreamAudio, Index: i})
	return nil
}

func (p *Player) SubtitleCount() int {
	return len(p.streamsOfType(message.StreamSubtitle))
}

// Subtitle is the index of the selected subtitle stream, or -1.
func (p *Player) Subtitle() int {
	return int(p.subtitleIndex.Load())
}

// SetSubtitle switches subtitles. An index of -1 disables them.
func (p *Player) SetSubtitle(i int) error {
	if i < -1 || i >= p.SubtitleCount() {
		return fmt.Errorf("%w: subtitle %d", ErrInvalidStream, i)
	}
	p.subtitleIndex.Store(int32(i))
	p.post(message.SelectStream{Type: message.StreamSubtitle, Index: i})
	return nil
}

func (p *Player) SubtitleVisible() bool {
	return p.subtitleVisible.Load()
}

func (p *Player) SetSubtitleVisible(visible bool) {
	p.subtitleVisible.Store(visible)
}

// Overlays returns the subtitle overlays due at the current time, or none
// while subtitles are hidden.
func (p *Player) Overlays() []*overlay.Overlay {
	if !p.SubtitleVisible() {
		return nil
	}
	return p.overlays.Active(p.clock.GetClock() - p.subtitle.Offset())
}

// SetAVDelay delays audio relative to video.
func (p *Player) SetAVDelay(d time.Duration) {
	p.audio.SetOffset(d)
}

func (p *Player) AVDelay() time.Duration {
	return p.audio.Offset()
}

// SetSubtitleDelay shifts subtitles relative to video.
func (p *Player) SetSubtitleDelay(d time.Duration) {
	p.subtitle.SetOffset(d)
}

func (p *Player) SubtitleDelay() time.Duration {
	return p.subtitle.Offset()
}

// playerState is the serialized form of PlayerState.
type playerState struct {
	Time            time.Duration `json:"time"`
	Audio           int           `json:"audio"`
	Subtitle        int           `json:"subtitle"`
	SubtitleVisible bool          `json:"subtitle_visible"`
}

// PlayerState captures position and stream selection as an opaque string.
func (p *Player) PlayerState() string {
	data, err := json.Marshal(playerState{
		Time:            p.Time(),
		Audio:           p.AudioStream(),
		Subtitle:        p.Subtitle(),
		SubtitleVisible: p.SubtitleVisible(),
	})
	if err != nil {
		return ""
	}
	return string(data)
}

// SetPlayerState restores a state captured by PlayerState.
func (p *Player) SetPlayerState(state string) error {
	var st playerState
	if err := json.Unmarshal([]byte(state), &st); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !p.open.Load() {
		return ErrNotOpen
	}
	p.post(message.SetState{State: state})
	p.SynchronizeDemuxer(p.cfg.DemuxerSyncTimeout)
	return nil
}

// Status is a snapshot of the player for display.
type Status struct {
	Open            bool          `json:"open"`
	Item            string        `json:"item,omitempty"`
	SessionID       string        `json:"session_id,omitempty"`
	Ended           bool          `json:"ended"`
	Time            time.Duration `json:"time"`
	TotalTime       time.Duration `json:"total_time"`
	Percentage      float64       `json:"percentage"`
	Speed           int           `json:"speed"`
	Paused          bool          `json:"paused"`
	CacheState      string        `json:"cache_state"`
	CacheLevel      int           `json:"cache_level"`
	Chapter         int           `json:"chapter"`
	ChapterCount    int           `json:"chapter_count"`
	AudioStream     int           `json:"audio_stream"`
	AudioStreams    int           `json:"audio_streams"`
	Subtitle        int           `json:"subtitle"`
	Subtitles       int           `json:"subtitles"`
	SubtitleVisible bool          `json:"subtitle_visible"`
	AVDelay         time.Duration `json:"av_delay"`
	SubtitleDelay   time.Duration `json:"subtitle_delay"`
	SeekState       string        `json:"seek_state"`
	HasEDL          bool          `json:"has_edl"`

	QueueLevels map[string]int `json:"queue_levels"`
}

// Status returns a snapshot of the player.
func (p *Player) Status() Status {
	p.sessionMu.Lock()
	item, id := p.item, p.sessionID
	p.sessionMu.Unlock()

	levels := make(map[string]int, 4)
	for _, c := range p.consumers() {
		levels[c.typ.String()] = c.queue.Level()
	}

	open := p.open.Load()
	if !open {
		item, id = "", ""
	}
	return Status{
		Open:            open,
		Item:            item,
		SessionID:       id,
		Ended:           p.ended.Load(),
		Time:            p.Time(),
		TotalTime:       p.TotalTime(),
		Percentage:      p.Percentage(),
		Speed:           p.Speed(),
		Paused:          p.IsPaused(),
		CacheState:      p.CacheState().String(),
		CacheLevel:      p.CacheLevel(),
		Chapter:         p.Chapter(),
		ChapterCount:    p.ChapterCount(),
		AudioStream:     p.AudioStream(),
		AudioStreams:    p.AudioStreamCount(),
		Subtitle:        p.Subtitle(),
		Subtitles:       p.SubtitleCount(),
		SubtitleVisible: p.SubtitleVisible(),
		AVDelay:         p.AVDelay(),
		SubtitleDelay:   p.SubtitleDelay(),
		SeekState:       p.seek.State().String(),
		HasEDL:          p.seek.EDL().HasCut() || p.seek.EDL().HasSceneMarker(),
		QueueLevels:     levels,
	}
}
