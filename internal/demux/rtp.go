package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
)

const (
	// RTP timestamps are 32-bit counters.
	rtpTimestampBits = 32

	rtpMaxPacketSize = 1500

	// rtpPollInterval bounds each socket read so cancellation is noticed.
	rtpPollInterval = 250 * time.Millisecond
)

type rtpTrack struct {
	index    int
	typ      message.StreamType
	timeBase TimeBase
	unwrap   *unwrapper
	lastSeq  uint16
	seenSeq  bool
	lost     atomic.Uint64

	// RTP streams start at random timestamps, so each has its own origin.
	origin    time.Duration
	hasOrigin bool
}

// RTPSource receives an RTP feed on a UDP socket. Payload types map to
// one video and one audio stream; every RTP packet becomes one player
// packet stamped with the unwrapped RTP time. The source is live: it
// cannot seek and reports io.EOF once the feed has been silent for the
// configured read timeout.
type RTPSource struct {
	logger      logger.Logger
	conn        *net.UDPConn
	readTimeout time.Duration

	mu       sync.Mutex
	streams  []StreamInfo
	tracks   map[uint8]*rtpTrack
	buf      []byte
	lastData time.Time

	closed atomic.Bool
}

// ListenRTP binds a UDP socket on addr (host:port).
func ListenRTP(addr string, cfg config.RTPConfig, log logger.Logger) (*RTPSource, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve RTP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on RTP port: %w", err)
	}

	s := &RTPSource{
		logger:      log.WithField("component", "rtp_source"),
		conn:        conn,
		readTimeout: cfg.ReadTimeout,
		tracks:      make(map[uint8]*rtpTrack),
		buf:         make([]byte, rtpMaxPacketSize),
		lastData:    time.Now(),
	}
	if cfg.BufferSize > 0 {
		if err := conn.SetReadBuffer(cfg.BufferSize); err != nil {
			s.logger.WithError(err).Warn("Failed to set RTP read buffer size")
		}
	}

	s.addTrack(cfg.VideoPayloadType, message.StreamVideo, ClockRate(cfg.VideoClockRate))
	s.addTrack(cfg.AudioPayloadType, message.StreamAudio, ClockRate(cfg.AudioClockRate))

	s.logger.WithFields(map[string]interface{}{
		"address":  conn.LocalAddr().String(),
		"video_pt": cfg.VideoPayloadType,
		"audio_pt": cfg.AudioPayloadType,
	}).Info("RTP source listening")
	return s, nil
}

func (s *RTPSource) addTrack(pt uint8, typ message.StreamType, tb TimeBase) {
	t := &rtpTrack{
		index:    len(s.streams),
		typ:      typ,
		timeBase: tb,
		unwrap:   newUnwrapper(rtpTimestampBits),
	}
	s.tracks[pt] = t
	s.streams = append(s.streams, StreamInfo{
		Index: t.index,
		Type:  typ,
		Codec: fmt.Sprintf("rtp/%d", pt),
	})
}

// LocalAddr is the bound socket address.
func (s *RTPSource) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *RTPSource) Streams() []StreamInfo {
	return append([]StreamInfo(nil), s.streams...)
}

func (s *RTPSource) Read(ctx context.Context) (*message.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.conn.SetReadDeadline(time.Now().Add(rtpPollInterval))
		n, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if s.readTimeout > 0 && time.Since(s.lastData) > s.readTimeout {
					s.logger.WithField("timeout", s.readTimeout).Info("RTP feed went silent")
					return nil, io.EOF
				}
				continue
			}
			if s.closed.Load() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("failed to read RTP packet: %w", err)
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(s.buf[:n]); err != nil {
			s.logger.WithError(err).Debug("Failed to parse RTP packet")
			continue
		}
		track, ok := s.tracks[pkt.PayloadType]
		if !ok {
			continue
		}
		s.lastData = time.Now()
		s.trackSequence(track, pkt.SequenceNumber)

		ts := track.timeBase.Duration(track.unwrap.unwrap(int64(pkt.Timestamp)))
		if !track.hasOrigin {
			track.origin = ts
			track.hasOrigin = true
		}
		ts -= track.origin

		return &message.Packet{
			StreamIndex: track.index,
			StreamType:  track.typ,
			Data:        append([]byte(nil), pkt.Payload...),
			PTS:         ts,
			DTS:         message.NoPTS,
		}, nil
	}
}

// trackSequence counts sequence gaps for diagnostics.
func (s *RTPSource) trackSequence(t *rtpTrack, seq uint16) {
	if t.seenSeq {
		if gap := seq - t.lastSeq; gap > 1 && gap < 1<<15 {
			t.lost.Add(uint64(gap - 1))
			s.logger.WithFields(map[string]interface{}{
				"stream": t.typ.String(),
				"gap":    gap - 1,
			}).Debug("RTP sequence gap")
		}
	}
	t.lastSeq = seq
	t.seenSeq = true
}

// Lost returns the number of packets missing from sequence gaps per stream
// index.
func (s *RTPSource) Lost() map[int]uint64 {
	out := make(map[int]uint64, len(s.tracks))
	for _, t := range s.tracks {
		out[t.index] = t.lost.Load()
	}
	return out
}

func (s *RTPSource) Seek(context.Context, time.Duration, bool) error {
	return ErrNotSeekable
}

func (s *RTPSource) Duration() time.Duration {
	return 0
}

func (s *RTPSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
