package demux

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/playcore/internal/message"
)

// SliceSource serves packets from memory. It is seekable and may carry
// chapters, which makes it the reference source for tests and synthetic
// playback.
type SliceSource struct {
	mu       sync.Mutex
	streams  []StreamInfo
	packets  []*message.Packet
	pos      int
	duration time.Duration
	chapters []time.Duration
	closed   bool
}

// NewSliceSource orders packets by timestamp and derives the duration from
// the last one.
func NewSliceSource(streams []StreamInfo, packets []*message.Packet) *SliceSource {
	sorted := append([]*message.Packet(nil), packets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp() < sorted[j].Timestamp()
	})

	var duration time.Duration
	for _, p := range sorted {
		if end := p.PTS + p.Duration; p.PTS != message.NoPTS && end > duration {
			duration = end
		}
	}

	return &SliceSource{
		streams:  append([]StreamInfo(nil), streams...),
		packets:  sorted,
		duration: duration,
	}
}

// SetChapters sets chapter start times. The first chapter should start at 0.
func (s *SliceSource) SetChapters(starts ...time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chapters = append([]time.Duration(nil), starts...)
	sort.Slice(s.chapters, func(i, j int) bool { return s.chapters[i] < s.chapters[j] })
}

func (s *SliceSource) Streams() []StreamInfo {
	return append([]StreamInfo(nil), s.streams...)
}

func (s *SliceSource) Duration() time.Duration {
	return s.duration
}

// Read returns a copy of the next packet so callers may annotate it.
func (s *SliceSource) Read(ctx context.Context) (*message.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.pos >= len(s.packets) {
		return nil, io.EOF
	}
	p := *s.packets[s.pos]
	s.pos++
	return &p, nil
}

// Seek positions the source on a seek point near t: the last one at or
// before t when backward, the first one at or after t otherwise. Seek
// points are keyframes, or every packet when none are flagged.
func (s *SliceSource) Seek(ctx context.Context, t time.Duration, backward bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pos = s.seekIndexLocked(t, backward)
	return nil
}

func (s *SliceSource) seekIndexLocked(t time.Duration, backward bool) int {
	anyKey := false
	for _, p := range s.packets {
		if p.Keyframe {
			anyKey = true
			break
		}
	}
	isPoint := func(p *message.Packet) bool { return !anyKey || p.Keyframe }

	i := sort.Search(len(s.packets), func(i int) bool {
		return s.packets[i].Timestamp() >= t
	})

	if backward {
		if i < len(s.packets) && s.packets[i].Timestamp() == t && isPoint(s.packets[i]) {
			return i
		}
		for j := min(i, len(s.packets)) - 1; j >= 0; j-- {
			if isPoint(s.packets[j]) {
				return j
			}
		}
		return 0
	}

	for j := i; j < len(s.packets); j++ {
		if isPoint(s.packets[j]) {
			return j
		}
	}
	return len(s.packets)
}

func (s *SliceSource) ChapterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chapters)
}

// Chapter returns the chapter holding the next packet, or 0 without chapters.
func (s *SliceSource) Chapter() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chapters) == 0 {
		return 0
	}
	t := s.duration
	if s.pos < len(s.packets) {
		t = s.packets[s.pos].Timestamp()
	}
	n := sort.Search(len(s.chapters), func(i int) bool { return s.chapters[i] > t })
	return max(n, 1)
}

func (s *SliceSource) SeekChapter(ctx context.Context, chapter int) (time.Duration, error) {
	s.mu.Lock()
	if chapter < 1 || chapter > len(s.chapters) {
		s.mu.Unlock()
		return 0, ErrNoChapters
	}
	start := s.chapters[chapter-1]
	s.mu.Unlock()

	return start, s.Seek(ctx, start, true)
}

// Position returns the timestamp of the next packet.
func (s *SliceSource) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.packets) {
		return s.duration
	}
	return s.packets[s.pos].Timestamp()
}

func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SyntheticOptions shape a generated title.
type SyntheticOptions struct {
	Duration       time.Duration
	FrameInterval  time.Duration // video frame spacing
	GOP            time.Duration // keyframe spacing
	AudioFrame     time.Duration // audio frame spacing, zero disables audio
	SubtitleEvery  time.Duration // zero disables subtitles
	ChapterEvery   time.Duration // zero disables chapters
	VideoFrameSize int
	AudioFrameSize int
}

// DefaultSyntheticOptions is a 25 fps title with 48 kHz AAC-sized audio
// frames.
func DefaultSyntheticOptions(duration time.Duration) SyntheticOptions {
	return SyntheticOptions{
		Duration:       duration,
		FrameInterval:  40 * time.Millisecond,
		GOP:            time.Second,
		AudioFrame:     time.Second * 1024 / 48000,
		SubtitleEvery:  5 * time.Second,
		ChapterEvery:   time.Minute,
		VideoFrameSize: 4096,
		AudioFrameSize: 384,
	}
}

// NewSyntheticSource generates a title with a video stream and optional
// audio and subtitle streams carrying zeroed payloads.
func NewSyntheticSource(opts SyntheticOptions) *SliceSource {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 40 * time.Millisecond
	}
	if opts.GOP < opts.FrameInterval {
		opts.GOP = opts.FrameInterval
	}

	streams := []StreamInfo{{Index: 0, Type: message.StreamVideo, Codec: "synthetic"}}
	audioIdx, subIdx := -1, -1
	if opts.AudioFrame > 0 {
		audioIdx = len(streams)
		streams = append(streams, StreamInfo{Index: audioIdx, Type: message.StreamAudio, Codec: "synthetic"})
	}
	if opts.SubtitleEvery > 0 {
		subIdx = len(streams)
		streams = append(streams, StreamInfo{Index: subIdx, Type: message.StreamSubtitle, Codec: "text"})
	}

	var packets []*message.Packet
	framesPerGOP := int(opts.GOP / opts.FrameInterval)
	for i, t := 0, time.Duration(0); t < opts.Duration; i, t = i+1, t+opts.FrameInterval {
		key := i%framesPerGOP == 0
		size := opts.VideoFrameSize
		if key {
			size *= 4
		}
		packets = append(packets, &message.Packet{
			StreamIndex: 0,
			StreamType:  message.StreamVideo,
			Data:        make([]byte, size),
			PTS:         t,
			DTS:         t,
			Duration:    opts.FrameInterval,
			Keyframe:    key,
		})
	}
	if audioIdx >= 0 {
		for t := time.Duration(0); t < opts.Duration; t += opts.AudioFrame {
			packets = append(packets, &message.Packet{
				StreamIndex: audioIdx,
				StreamType:  message.StreamAudio,
				Data:        make([]byte, opts.AudioFrameSize),
				PTS:         t,
				DTS:         t,
				Duration:    opts.AudioFrame,
			})
		}
	}
	if subIdx >= 0 {
		for t := opts.SubtitleEvery / 2; t < opts.Duration; t += opts.SubtitleEvery {
			packets = append(packets, &message.Packet{
				StreamIndex: subIdx,
				StreamType:  message.StreamSubtitle,
				Data:        []byte("subtitle"),
				PTS:         t,
				DTS:         message.NoPTS,
				Duration:    2 * time.Second,
			})
		}
	}

	src := NewSliceSource(streams, packets)
	if opts.ChapterEvery > 0 {
		var starts []time.Duration
		for t := time.Duration(0); t < opts.Duration; t += opts.ChapterEvery {
			starts = append(starts, t)
		}
		src.SetChapters(starts...)
	}
	return src
}
