package demux

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/logger"
)

// Opener turns a playable item into a Source.
type Opener interface {
	Open(ctx context.Context, item string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, item string) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, item string) (Source, error) {
	return f(ctx, item)
}

// DefaultOpener picks a source by the item's scheme:
//
//	srt://host:port?streamid=x   SRT caller carrying MPEG-TS
//	rtp://host:port              RTP listener bound on host:port
//	synthetic://?duration=90s    generated title
//	anything else                MPEG-TS file on disk
type DefaultOpener struct {
	cfg    config.SourceConfig
	logger logger.Logger
}

func NewOpener(cfg config.SourceConfig, log logger.Logger) *DefaultOpener {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &DefaultOpener{cfg: cfg, logger: log}
}

func (o *DefaultOpener) Open(ctx context.Context, item string) (Source, error) {
	u, err := url.Parse(item)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain paths, including windows drive letters
		return o.openFile(item)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return o.openFile(u.Path)
	case "srt":
		srtCfg := o.cfg.SRT
		if id := u.Query().Get("streamid"); id != "" {
			srtCfg.StreamID = id
		}
		return OpenSRT(ctx, u.Host, srtCfg, o.cfg.ReadBufferSize, o.logger)
	case "rtp", "udp":
		return ListenRTP(u.Host, o.cfg.RTP, o.logger)
	case "synthetic":
		duration := 90 * time.Second
		if v := u.Query().Get("duration"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid synthetic duration %q: %w", v, err)
			}
			duration = d
		}
		return NewSyntheticSource(DefaultSyntheticOptions(duration)), nil
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func (o *DefaultOpener) openFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	src, err := NewTSSource(f, o.cfg.ReadBufferSize, o.logger)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// IsLocalFile reports whether item names a file on disk, the only kind of
// item that can have a sidecar EDL.
func IsLocalFile(item string) bool {
	u, err := url.Parse(item)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return true
	}
	return strings.EqualFold(u.Scheme, "file")
}
