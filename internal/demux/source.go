// Package demux provides packet sources for the player. A source turns a
// container or a network feed into timestamped packets and knows how to
// reposition itself when the medium allows it.
package demux

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"

	"github.com/zsiec/playcore/internal/message"
)

var (
	// ErrNotSeekable is returned by Seek on live sources
	ErrNotSeekable = errors.New("source is not seekable")

	// ErrNoChapters is returned when a chapter is requested from a source
	// without chapters, or the chapter number is out of range
	ErrNoChapters = errors.New("source has no such chapter")

	// ErrClosed is returned by Read after Close
	ErrClosed = errors.New("source closed")
)

// StreamInfo describes one elementary stream of a source.
type StreamInfo struct {
	Index    int                `json:"index"`
	Type     message.StreamType `json:"type"`
	Codec    string             `json:"codec"`
	Language string             `json:"language,omitempty"`
}

// Source produces packets for the demux loop. Read returns io.EOF once the
// medium is exhausted. Timestamps are relative to the start of the title.
type Source interface {
	Streams() []StreamInfo
	Read(ctx context.Context) (*message.Packet, error)
	Seek(ctx context.Context, t time.Duration, backward bool) error
	Duration() time.Duration
	Close() error
}

// ChapterSource is implemented by sources that carry chapter marks.
// Chapters are numbered from 1. SeekChapter returns the chapter's start.
type ChapterSource interface {
	ChapterCount() int
	Chapter() int
	SeekChapter(ctx context.Context, chapter int) (time.Duration, error)
}

// StreamsOfType filters streams by type, preserving order.
func StreamsOfType(streams []StreamInfo, typ message.StreamType) []StreamInfo {
	return lo.Filter(streams, func(s StreamInfo, _ int) bool {
		return s.Type == typ
	})
}
