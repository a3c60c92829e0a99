package demux

import (
	"context"
	"fmt"

	gosrt "github.com/datarhei/gosrt"

	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/logger"
)

// OpenSRT connects to an SRT listener in caller mode and demuxes the
// MPEG-TS it carries. The returned source is live and cannot seek.
func OpenSRT(ctx context.Context, addr string, cfg config.SRTConfig, bufSize int, log logger.Logger) (*TSSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before connect: %w", err)
	}
	if log == nil {
		log = logger.NewNullLogger()
	}

	srtCfg := gosrt.DefaultConfig()
	if cfg.StreamID != "" {
		srtCfg.StreamId = cfg.StreamID
	}
	if cfg.Latency > 0 {
		srtCfg.Latency = cfg.Latency
	}
	if cfg.ConnectTimeout > 0 {
		srtCfg.ConnectionTimeout = cfg.ConnectTimeout
	}
	if cfg.PayloadSize > 0 {
		srtCfg.PayloadSize = uint32(cfg.PayloadSize)
	}
	if cfg.Passphrase != "" {
		srtCfg.Passphrase = cfg.Passphrase
	}

	type result struct {
		conn gosrt.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := gosrt.Dial("srt", addr, srtCfg)
		done <- result{conn, err}
	}()

	var conn gosrt.Conn
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("SRT connect failed: %w", r.err)
		}
		conn = r.conn
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}

	log.WithFields(map[string]interface{}{
		"addr":      addr,
		"stream_id": srtCfg.StreamId,
	}).Info("SRT connection established")

	// Reading the program tables blocks on the network.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	src, err := NewTSSource(conn, bufSize, log)
	stop()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return src, nil
}
