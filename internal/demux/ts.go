package demux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
)

const (
	tsPacketSize = 188

	// MPEG-TS timestamps are 33-bit counters at 90 kHz.
	tsTimestampBits = 33

	// minRateSpan is how much media must be read before the byte rate is
	// trusted for duration estimates and seeks.
	minRateSpan = time.Second

	// backwardSeekMargin is subtracted from backward seek targets so the
	// source resumes before the requested time.
	backwardSeekMargin = time.Second
)

type tsTrack struct {
	index    int
	typ      message.StreamType
	codec    string
	frameDur int64 // audio frame duration in 90 kHz ticks
	pts      *unwrapper
	dts      *unwrapper
}

// TSSource demuxes an MPEG transport stream read from any io.Reader. It is
// seekable when the reader is an io.ReadSeeker of known size.
type TSSource struct {
	logger  logger.Logger
	bufSize int

	src    io.Reader
	seeker io.ReadSeeker
	closer io.Closer
	size   int64

	mu        sync.Mutex
	reader    *mpegts.Reader
	counter   *countingReader
	streams   []StreamInfo
	tracks    map[uint16]*tsTrack
	pending   []*message.Packet
	origin    int64
	hasOrigin bool

	closed atomic.Bool

	// byte rate observed from the start of the stream, for seeking
	rateBytes int64
	rateSpan  time.Duration
	lastTS    time.Duration
	seeked    bool
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// NewTSSource reads the program tables from r and prepares one stream per
// supported track. If r is an io.Closer it is closed by Close.
func NewTSSource(r io.Reader, bufSize int, log logger.Logger) (*TSSource, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	if bufSize < tsPacketSize {
		bufSize = tsPacketSize * 7 * 64
	}

	s := &TSSource{
		logger:  log.WithField("component", "ts_source"),
		bufSize: bufSize,
		src:     r,
		tracks:  make(map[uint16]*tsTrack),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	if rs, ok := r.(io.ReadSeeker); ok {
		if size, err := rs.Seek(0, io.SeekEnd); err == nil {
			if _, err := rs.Seek(0, io.SeekStart); err == nil {
				s.seeker = rs
				s.size = size
			}
		}
	}

	if err := s.initReader(); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"streams":  len(s.streams),
		"seekable": s.seeker != nil,
	}).Info("MPEG-TS source opened")
	return s, nil
}

// initReader builds a fresh mpegts reader at the current position of the
// underlying reader. Stream indexes are kept stable across re-inits by PID.
func (s *TSSource) initReader() error {
	s.counter = &countingReader{r: s.src}
	s.reader = &mpegts.Reader{R: bufio.NewReaderSize(s.counter, s.bufSize)}
	if err := s.reader.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize mpegts reader: %w", err)
	}

	for _, track := range s.reader.Tracks() {
		s.setupTrack(track)
	}

	s.reader.OnDecodeError(func(err error) {
		s.logger.WithError(err).Debug("MPEG-TS decode error")
	})
	return nil
}

func (s *TSSource) trackFor(track *mpegts.Track, typ message.StreamType, codec string) *tsTrack {
	if t, ok := s.tracks[track.PID]; ok {
		t.pts.reset()
		t.dts.reset()
		return t
	}
	t := &tsTrack{
		index: len(s.streams),
		typ:   typ,
		codec: codec,
		pts:   newUnwrapper(tsTimestampBits),
		dts:   newUnwrapper(tsTimestampBits),
	}
	s.tracks[track.PID] = t
	s.streams = append(s.streams, StreamInfo{Index: t.index, Type: typ, Codec: codec})
	return t
}

func (s *TSSource) setupTrack(track *mpegts.Track) {
	switch codec := track.Codec.(type) {
	case *mpegts.CodecH264:
		t := s.trackFor(track, message.StreamVideo, "h264")
		s.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			return s.emitVideo(t, pts, dts, au, h264.IsRandomAccess(au))
		})

	case *mpegts.CodecH265:
		t := s.trackFor(track, message.StreamVideo, "h265")
		s.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			return s.emitVideo(t, pts, dts, au, h265.IsRandomAccess(au))
		})

	case *mpegts.CodecMPEG4Audio:
		t := s.trackFor(track, message.StreamAudio, "aac")
		rate := codec.Config.SampleRate
		if rate <= 0 {
			rate = 48000
		}
		t.frameDur = int64(1024 * 90000 / rate)
		s.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return s.emitAudio(t, pts, aus)
		})

	case *mpegts.CodecMPEG1Audio:
		t := s.trackFor(track, message.StreamAudio, "mp3")
		t.frameDur = int64(1152 * 90000 / 48000)
		s.reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			return s.emitAudio(t, pts, frames)
		})

	case *mpegts.CodecAC3:
		t := s.trackFor(track, message.StreamAudio, "ac3")
		s.reader.OnDataAC3(track, func(pts int64, frame []byte) error {
			return s.emitAudio(t, pts, [][]byte{frame})
		})

	default:
		s.logger.WithFields(map[string]interface{}{
			"pid":   track.PID,
			"codec": fmt.Sprintf("%T", track.Codec),
		}).Debug("Ignoring unsupported track")
	}
}

// timestamp converts an unwrapped 90 kHz value to title time.
func (s *TSSource) timestamp(ticks int64) time.Duration {
	if !s.hasOrigin {
		s.origin = ticks
		s.hasOrigin = true
	}
	return TimeBase90kHz.Duration(ticks - s.origin)
}

func (s *TSSource) emitVideo(t *tsTrack, pts, dts int64, au [][]byte, key bool) error {
	if len(au) == 0 {
		return nil
	}
	data, err := h264.AnnexB(au).Marshal()
	if err != nil || len(data) == 0 {
		return nil
	}

	d := s.timestamp(t.dts.unwrap(dts))
	p := s.timestamp(t.pts.unwrap(pts))
	s.push(&message.Packet{
		StreamIndex: t.index,
		StreamType:  t.typ,
		Data:        data,
		PTS:         p,
		DTS:         d,
		Keyframe:    key,
	})
	return nil
}

func (s *TSSource) emitAudio(t *tsTrack, pts int64, frames [][]byte) error {
	base := t.pts.unwrap(pts)
	for i, frame := range frames {
		if len(frame) == 0 {
			continue
		}
		ts := s.timestamp(base + int64(i)*t.frameDur)
		s.push(&message.Packet{
			StreamIndex: t.index,
			StreamType:  t.typ,
			Data:        append([]byte(nil), frame...),
			PTS:         ts,
			DTS:         ts,
			Duration:    TimeBase90kHz.Duration(t.frameDur),
		})
	}
	return nil
}

func (s *TSSource) push(p *message.Packet) {
	s.pending = append(s.pending, p)
	if ts := p.Timestamp(); ts > s.lastTS {
		s.lastTS = ts
		if !s.seeked {
			s.rateSpan = ts
			s.rateBytes = s.counter.n
		}
	}
}

func (s *TSSource) Streams() []StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamInfo(nil), s.streams...)
}

// Read decodes transport packets until at least one elementary packet is
// available.
func (s *TSSource) Read(ctx context.Context) (*message.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.reader.Read(); err != nil {
			if s.closed.Load() {
				return nil, ErrClosed
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("mpegts read: %w", err)
		}
	}

	p := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return p, nil
}

// Duration estimates the title length from the byte rate observed so far.
// It is zero for live sources and until enough media has been read.
func (s *TSSource) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationLocked()
}

func (s *TSSource) durationLocked() time.Duration {
	if s.seeker == nil || s.rateSpan < minRateSpan || s.rateBytes <= 0 {
		return 0
	}
	return time.Duration(float64(s.size) / float64(s.rateBytes) * float64(s.rateSpan))
}

// Seek jumps to the byte offset that corresponds to t at the observed byte
// rate, aligned to a transport packet, and rebuilds the demuxer there.
func (s *TSSource) Seek(ctx context.Context, t time.Duration, backward bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	if s.seeker == nil {
		return ErrNotSeekable
	}
	duration := s.durationLocked()
	if duration <= 0 {
		return fmt.Errorf("%w: byte rate not known yet", ErrNotSeekable)
	}

	if backward {
		t -= backwardSeekMargin
	}
	t = max(0, min(t, duration))
	offset := int64(float64(s.size) * float64(t) / float64(duration))
	offset -= offset % tsPacketSize

	if _, err := s.seeker.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to byte %d: %w", offset, err)
	}

	s.seeked = true
	s.pending = nil
	if err := s.initReader(); err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"target": t,
		"offset": offset,
	}).Debug("MPEG-TS source repositioned")
	return nil
}

// Close may be called while Read is blocked; closing the underlying reader
// is what unblocks it.
func (s *TSSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
