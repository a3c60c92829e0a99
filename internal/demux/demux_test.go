package demux

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/message"
)

func testLogger() logger.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return logger.NewLogrusAdapter(logrus.NewEntry(log))
}

func TestTimeBase_Duration(t *testing.T) {
	tests := []struct {
		name  string
		tb    TimeBase
		ticks int64
		want  time.Duration
	}{
		{"one second at 90kHz", TimeBase90kHz, 90000, time.Second},
		{"one frame at 90kHz", TimeBase90kHz, 3600, 40 * time.Millisecond},
		{"aac frame at 48kHz", TimeBase48kHz, 1024, 21333333 * time.Nanosecond},
		{"33-bit max at 90kHz", TimeBase90kHz, 1<<33 - 1, 95443717677777 * time.Nanosecond},
		{"zero denominator", TimeBase{Num: 1}, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tb.Duration(tt.ticks))
		})
	}

	assert.Equal(t, int64(90000), TimeBase90kHz.Ticks(time.Second))
	assert.Equal(t, int64(48000), ClockRate(48000).Ticks(time.Second))
	assert.Equal(t, TimeBase90kHz, ClockRate(0))
}

func TestUnwrapper(t *testing.T) {
	u := newUnwrapper(32)
	const wrap = int64(1) << 32

	assert.Equal(t, wrap-3000, u.unwrap(wrap-3000))
	assert.Equal(t, wrap-1000, u.unwrap(wrap-1000))
	assert.Equal(t, wrap+500, u.unwrap(500), "forward across the wrap")
	assert.Equal(t, wrap-500, u.unwrap(wrap-500), "late value from before the wrap")
	assert.Equal(t, wrap+1500, u.unwrap(1500))

	u.reset()
	assert.Equal(t, int64(1500), u.unwrap(1500))
}

func TestSliceSource_ReadAndEOF(t *testing.T) {
	streams := []StreamInfo{{Index: 0, Type: message.StreamVideo}}
	packets := []*message.Packet{
		{StreamIndex: 0, PTS: 80 * time.Millisecond, DTS: 80 * time.Millisecond, Data: []byte{3}},
		{StreamIndex: 0, PTS: 0, DTS: 0, Data: []byte{1}, Keyframe: true},
		{StreamIndex: 0, PTS: 40 * time.Millisecond, DTS: 40 * time.Millisecond, Data: []byte{2}, Duration: 40 * time.Millisecond},
	}
	src := NewSliceSource(streams, packets)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		p, err := src.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(i), p.Data[0])
	}
	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 80*time.Millisecond, src.Duration())

	require.NoError(t, src.Seek(ctx, 0, true))
	p, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(1), p.Data[0])
	p.Drop = true
	require.NoError(t, src.Seek(ctx, 0, true))
	again, err := src.Read(ctx)
	require.NoError(t, err)
	assert.False(t, again.Drop, "reads return copies")

	require.NoError(t, src.Close())
	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSliceSource_SeekLandsOnKeyframes(t *testing.T) {
	src := NewSyntheticSource(SyntheticOptions{
		Duration:       10 * time.Second,
		FrameInterval:  40 * time.Millisecond,
		GOP:            time.Second,
		VideoFrameSize: 10,
	})
	ctx := context.Background()

	tests := []struct {
		target   time.Duration
		backward bool
		want     time.Duration
	}{
		{4500 * time.Millisecond, true, 4 * time.Second},
		{4500 * time.Millisecond, false, 5 * time.Second},
		{5 * time.Second, true, 5 * time.Second},
		{0, true, 0},
	}
	for _, tt := range tests {
		require.NoError(t, src.Seek(ctx, tt.target, tt.backward))
		p, err := src.Read(ctx)
		require.NoError(t, err)
		assert.True(t, p.Keyframe)
		assert.Equal(t, tt.want, p.PTS, "seek to %v backward=%v", tt.target, tt.backward)
	}

	require.NoError(t, src.Seek(ctx, 20*time.Second, false))
	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSliceSource_Chapters(t *testing.T) {
	opts := DefaultSyntheticOptions(3 * time.Minute)
	src := NewSyntheticSource(opts)
	ctx := context.Background()

	var cs ChapterSource = src
	assert.Equal(t, 3, cs.ChapterCount())
	assert.Equal(t, 1, cs.Chapter())

	start, err := cs.SeekChapter(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, start)
	assert.Equal(t, 2, cs.Chapter())
	assert.Equal(t, time.Minute, src.Position())

	_, err = cs.SeekChapter(ctx, 4)
	assert.ErrorIs(t, err, ErrNoChapters)
	_, err = cs.SeekChapter(ctx, 0)
	assert.ErrorIs(t, err, ErrNoChapters)
}

func TestSyntheticSource_Streams(t *testing.T) {
	src := NewSyntheticSource(DefaultSyntheticOptions(10 * time.Second))
	streams := src.Streams()
	require.Len(t, streams, 3)
	assert.Len(t, StreamsOfType(streams, message.StreamAudio), 1)
	assert.Len(t, StreamsOfType(streams, message.StreamSubtitle), 1)
	assert.Empty(t, StreamsOfType(streams, message.StreamTeletext))

	ctx := context.Background()
	last := time.Duration(-1)
	for {
		p, err := src.Read(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.Timestamp(), last)
		last = p.Timestamp()
	}
}

// writeTestTS muxes frames of H.264 video at 25 fps and AAC audio.
func writeTestTS(t *testing.T, frames int) []byte {
	t.Helper()

	video := &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
	audio := &mpegts.Track{PID: 257, Codec: &mpegts.CodecMPEG4Audio{
		Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   48000,
			ChannelCount: 2,
		},
	}}

	var buf bytes.Buffer
	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{video, audio}}
	require.NoError(t, w.Initialize())

	for i := 0; i < frames; i++ {
		ts := int64(i) * 3600
		nalu := []byte{0x41, 0x9a, byte(i)}
		if i%25 == 0 {
			nalu = []byte{0x65, 0x88, byte(i)}
		}
		require.NoError(t, w.WriteH264(video, ts, ts, [][]byte{nalu}))
		require.NoError(t, w.WriteMPEG4Audio(audio, ts, [][]byte{{0x21, 0x10, byte(i)}}))
	}
	return buf.Bytes()
}

func TestTSSource_Demux(t *testing.T) {
	data := writeTestTS(t, 50)
	src, err := NewTSSource(bytes.NewReader(data), 0, testLogger())
	require.NoError(t, err)
	defer src.Close()

	streams := src.Streams()
	require.Len(t, streams, 2)
	assert.Len(t, StreamsOfType(streams, message.StreamVideo), 1)
	assert.Len(t, StreamsOfType(streams, message.StreamAudio), 1)

	ctx := context.Background()
	var videoPTS []time.Duration
	keyframes := 0
	for {
		p, err := src.Read(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if p.StreamType == message.StreamVideo {
			videoPTS = append(videoPTS, p.PTS)
			if p.Keyframe {
				keyframes++
			}
		}
	}

	require.GreaterOrEqual(t, len(videoPTS), 40)
	assert.Equal(t, time.Duration(0), videoPTS[0])
	assert.Equal(t, 40*time.Millisecond, videoPTS[1])
	assert.GreaterOrEqual(t, keyframes, 1)
	assert.Greater(t, src.Duration(), time.Second)
}

func TestTSSource_SeekRequiresByteRate(t *testing.T) {
	data := writeTestTS(t, 10)
	src, err := NewTSSource(bytes.NewReader(data), 0, testLogger())
	require.NoError(t, err)

	err = src.Seek(context.Background(), time.Second, false)
	assert.ErrorIs(t, err, ErrNotSeekable)
}

func TestTSSource_NotSeekableReader(t *testing.T) {
	data := writeTestTS(t, 10)
	src, err := NewTSSource(io.MultiReader(bytes.NewReader(data)), 0, testLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, src.Seek(context.Background(), 0, true), ErrNotSeekable)
	assert.Equal(t, time.Duration(0), src.Duration())
}

func TestRTPSource_Read(t *testing.T) {
	cfg := config.RTPConfig{
		ReadTimeout:      200 * time.Millisecond,
		VideoPayloadType: 96,
		AudioPayloadType: 97,
		VideoClockRate:   90000,
		AudioClockRate:   48000,
	}
	src, err := ListenRTP("127.0.0.1:0", cfg, testLogger())
	require.NoError(t, err)
	defer src.Close()

	conn, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	send := func(pt uint8, seq uint16, ts uint32) {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    pt,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           1234,
			},
			Payload: []byte{1, 2, 3},
		}
		raw, err := pkt.Marshal()
		require.NoError(t, err)
		_, err = conn.Write(raw)
		require.NoError(t, err)
	}

	base := uint32(1<<32 - 45000)
	send(96, 1, base)
	send(96, 2, base+90000) // wraps
	send(97, 10, 1000)
	send(97, 12, 1000+48000)
	send(50, 1, 0) // unknown payload type

	ctx := context.Background()
	var got []*message.Packet
	for len(got) < 4 {
		p, err := src.Read(ctx)
		require.NoError(t, err)
		got = append(got, p)
	}

	assert.Equal(t, message.StreamVideo, got[0].StreamType)
	assert.Equal(t, time.Duration(0), got[0].PTS)
	assert.Equal(t, time.Second, got[1].PTS)
	assert.Equal(t, message.StreamAudio, got[2].StreamType)
	assert.Equal(t, time.Duration(0), got[2].PTS)
	assert.Equal(t, time.Second, got[3].PTS)
	assert.Equal(t, message.NoPTS, got[3].DTS)
	assert.Equal(t, uint64(1), src.Lost()[1])

	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, io.EOF, "silent feed ends the stream")
	assert.ErrorIs(t, src.Seek(ctx, 0, true), ErrNotSeekable)
}

func TestDefaultOpener(t *testing.T) {
	o := NewOpener(config.SourceConfig{ReadBufferSize: 188 * 7}, testLogger())
	ctx := context.Background()

	src, err := o.Open(ctx, "synthetic://?duration=5s")
	require.NoError(t, err)
	assert.InDelta(t, float64(5*time.Second), float64(src.Duration()), float64(50*time.Millisecond))

	_, err = o.Open(ctx, "synthetic://?duration=bogus")
	assert.Error(t, err)

	_, err = o.Open(ctx, "gopher://example.com")
	assert.Error(t, err)

	_, err = o.Open(ctx, filepath.Join(t.TempDir(), "missing.ts"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "title.ts")
	require.NoError(t, os.WriteFile(path, writeTestTS(t, 30), 0644))
	src, err = o.Open(ctx, path)
	require.NoError(t, err)
	assert.Len(t, src.Streams(), 2)
	require.NoError(t, src.Close())

	assert.True(t, IsLocalFile(path))
	assert.True(t, IsLocalFile("file:///tmp/a.ts"))
	assert.False(t, IsLocalFile("srt://host:9000"))
}
