package message

import (
	"fmt"
	"time"
)

// NoPTS marks an unknown timestamp.
const NoPTS = time.Duration(-1 << 63)

// Kind identifies a message type. KindNone is used as a wildcard when
// filtering queues.
type Kind int

const (
	KindNone Kind = iota
	KindPacket
	KindFlush
	KindReset
	KindSynchronize
	KindResync
	KindDelay
	KindSetSpeed
	KindSetState
	KindSeek
	KindSeekChapter
	KindNoSkip
	KindStarted
	KindEndOfStream
	KindSelectStream
	KindSilence
)

var kindNames = map[Kind]string{
	KindNone:         "none",
	KindPacket:       "packet",
	KindFlush:        "flush",
	KindReset:        "reset",
	KindSynchronize:  "synchronize",
	KindResync:       "resync",
	KindDelay:        "delay",
	KindSetSpeed:     "set_speed",
	KindSetState:     "set_state",
	KindSeek:         "seek",
	KindSeekChapter:  "seek_chapter",
	KindNoSkip:       "no_skip",
	KindStarted:      "started",
	KindEndOfStream:  "end_of_stream",
	KindSelectStream: "select_stream",
	KindSilence:      "silence",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message is anything that travels through a player queue.
type Message interface {
	Kind() Kind
}

// IsControl reports whether m belongs to the control class. Control
// messages jump ahead of queued data. Packets and the end-of-stream marker
// are data and keep their position in the stream.
func IsControl(m Message) bool {
	switch m.Kind() {
	case KindPacket, KindEndOfStream:
		return false
	default:
		return true
	}
}

// StreamType identifies which elementary stream a packet or command targets.
type StreamType int

const (
	StreamNone StreamType = iota
	StreamAudio
	StreamVideo
	StreamSubtitle
	StreamTeletext
)

func (s StreamType) String() string {
	switch s {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	case StreamSubtitle:
		return "subtitle"
	case StreamTeletext:
		return "teletext"
	default:
		return "none"
	}
}

// Packet is a demuxed, timestamped unit of compressed data.
type Packet struct {
	StreamIndex int
	StreamType  StreamType
	Data        []byte
	PTS         time.Duration
	DTS         time.Duration
	Duration    time.Duration
	Keyframe    bool

	// Drop marks a packet that must be decoded for reference but not shown.
	Drop bool
}

func (*Packet) Kind() Kind { return KindPacket }

// Size is the number of bytes accounted against queue capacity.
func (p *Packet) Size() int { return len(p.Data) }

// Timestamp returns the decode timestamp, falling back to the presentation
// timestamp when the former is unknown.
func (p *Packet) Timestamp() time.Duration {
	if p.DTS != NoPTS {
		return p.DTS
	}
	return p.PTS
}

// Flush asks a consumer to drop decoder state and buffered output.
type Flush struct{}

func (Flush) Kind() Kind { return KindFlush }

// Reset returns a consumer to its freshly opened state.
type Reset struct{}

func (Reset) Kind() Kind { return KindReset }

// NoSkip disables frame dropping on the video consumer until the next resync.
type NoSkip struct{}

func (NoSkip) Kind() Kind { return KindNoSkip }

// Synchronize carries a barrier the consumer must reach before continuing.
type Synchronize struct {
	Barrier *Barrier
}

func (Synchronize) Kind() Kind { return KindSynchronize }

// Resync rebases a consumer at Timestamp. When SetClock is true the
// consumer also moves the shared clock.
type Resync struct {
	Timestamp time.Duration
	SetClock  bool
}

func (Resync) Kind() Kind { return KindResync }

// Delay holds back a consumer's output by Amount.
type Delay struct {
	Amount time.Duration
}

func (Delay) Kind() Kind { return KindDelay }

// SetSpeed changes playback speed. Speeds are in thousandths of normal.
type SetSpeed struct {
	Speed int
}

func (SetSpeed) Kind() Kind { return KindSetSpeed }

// SetState restores an opaque player state string.
type SetState struct {
	State string
}

func (SetState) Kind() Kind { return KindSetState }

// Seek asks the demux loop to reposition the source.
type Seek struct {
	Time      time.Duration
	Backward  bool
	Flush     bool
	Accurate  bool
	Restore   bool
	Trickplay bool
}

func (Seek) Kind() Kind { return KindSeek }

// SeekChapter asks the demux loop to jump to a chapter (1-based).
type SeekChapter struct {
	Chapter int
}

func (SeekChapter) Kind() Kind { return KindSeekChapter }

// Started is sent by a consumer after it produced its first output
// following a reset.
type Started struct {
	Source StreamType
}

func (Started) Kind() Kind { return KindStarted }

// EndOfStream marks that no more packets will follow for a stream.
type EndOfStream struct{}

func (EndOfStream) Kind() Kind { return KindEndOfStream }

// SelectStream switches the stream played for Type to the source stream
// at Index. An Index of -1 disables the stream.
type SelectStream struct {
	Type  StreamType
	Index int
}

func (SelectStream) Kind() Kind { return KindSelectStream }

// Silence mutes or unmutes audio output while packets keep flowing.
type Silence struct {
	Enabled bool
}

func (Silence) Kind() Kind { return KindSilence }
