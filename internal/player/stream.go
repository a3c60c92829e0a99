package player

import (
	"time"

	"github.com/zsiec/playcore/internal/message"
)

// CurrentStream is the demux loop's view of one elementary stream. It is
// owned by the Coordinator and only touched from the demux goroutine.
type CurrentStream struct {
	Type message.StreamType

	// ID is the source stream index, or -1 when the stream is disabled.
	ID int

	// Started is set once the consumer reported decoded output.
	Started bool
	// Inited is set by the first packet with a timestamp after a reset.
	Inited bool

	// DTS is the timestamp of the last packet sent to the consumer.
	DTS time.Duration
	// Duration is a running average of the packet duration.
	Duration time.Duration
	// StartPTS is the point playback must reach before packets are shown,
	// or NoPTS when nothing is pending.
	StartPTS time.Duration
	// StartSync is a barrier token still to be handed to the consumer.
	StartSync *message.Barrier
}

func newCurrentStream(typ message.StreamType) *CurrentStream {
	s := &CurrentStream{Type: typ}
	s.Clear()
	return s
}

// Clear disables the stream and forgets all timing state.
func (s *CurrentStream) Clear() {
	s.ID = -1
	s.Started = false
	s.Inited = false
	s.DTS = message.NoPTS
	s.Duration = 0
	s.StartPTS = message.NoPTS
	s.StartSync = nil
}

// Enabled reports whether a source stream is selected.
func (s *CurrentStream) Enabled() bool {
	return s.ID >= 0
}

// Reset prepares the stream for packets following a discontinuity.
func (s *CurrentStream) Reset(startPTS time.Duration) {
	s.Inited = false
	s.DTS = message.NoPTS
	s.StartPTS = startPTS
}

// updateTimestamps records the packet's decode time, falling back to its
// presentation time, and refines the average duration.
func (s *CurrentStream) updateTimestamps(pkt *message.Packet) {
	dts := s.DTS
	if pkt.DTS != message.NoPTS {
		dts = pkt.DTS
	} else if pkt.PTS != message.NoPTS {
		dts = pkt.PTS
	}

	if pkt.Duration > 0 {
		s.Duration = pkt.Duration
	} else if dts != message.NoPTS && s.DTS != message.NoPTS {
		s.Duration = (s.Duration*9 + (dts - s.DTS)) / 10
	}
	s.DTS = dts
}
