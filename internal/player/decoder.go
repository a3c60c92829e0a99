package player

import (
	"time"

	"github.com/zsiec/playcore/internal/message"
	"github.com/zsiec/playcore/internal/overlay"
)

// Decoder is the decode backend of one stream consumer.
type Decoder interface {
	// Decode consumes a packet and reports whether it produced output.
	Decode(pkt *message.Packet) (bool, error)
	// Flush drops any buffered decoder state.
	Flush()
}

// DecoderFactory builds the decoder for a stream type. Subtitle decoders
// write into the shared overlay container.
type DecoderFactory func(typ message.StreamType, overlays *overlay.Container) Decoder

// DefaultDecoders pairs subtitles with a SubtitleDecoder and every other
// stream with a NullDecoder.
func DefaultDecoders(typ message.StreamType, overlays *overlay.Container) Decoder {
	if typ == message.StreamSubtitle {
		return NewSubtitleDecoder(overlays)
	}
	return NullDecoder{}
}

// NullDecoder accepts packets without decoding them. Every packet that is
// not marked for dropping counts as output.
type NullDecoder struct{}

func (NullDecoder) Decode(pkt *message.Packet) (bool, error) {
	return !pkt.Drop, nil
}

func (NullDecoder) Flush() {}

// SubtitleDecoder turns subtitle packets into text overlays. The payload
// is taken as already decoded text.
type SubtitleDecoder struct {
	overlays *overlay.Container
	lastPTS  time.Duration
}

func NewSubtitleDecoder(overlays *overlay.Container) *SubtitleDecoder {
	return &SubtitleDecoder{overlays: overlays, lastPTS: message.NoPTS}
}

func (d *SubtitleDecoder) Decode(pkt *message.Packet) (bool, error) {
	if pkt.Drop || pkt.PTS == message.NoPTS {
		return false, nil
	}
	// a jump back in time invalidates everything already queued
	if d.lastPTS != message.NoPTS && pkt.PTS < d.lastPTS {
		d.overlays.Clear()
	}
	d.lastPTS = pkt.PTS

	o := &overlay.Overlay{
		Type:  overlay.TypeText,
		Start: pkt.PTS,
		Data:  append([]byte(nil), pkt.Data...),
	}
	if pkt.Duration > 0 {
		o.Stop = pkt.PTS + pkt.Duration
	}
	d.overlays.Add(o)
	return true, nil
}

func (d *SubtitleDecoder) Flush() {
	d.lastPTS = message.NoPTS
}
