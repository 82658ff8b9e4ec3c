// Package srt accepts a single SRT publisher and exposes its payload as an
// ingest.Source.
package srt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/packetq/internal/ingest"
)

// DefaultLatency is the SRT receiver latency used when none is configured.
const DefaultLatency = 120 * time.Millisecond

// Accept listens on addr and waits for one publisher with a non-empty
// stream ID. Further publishers are rejected while the returned source is
// open. Closing the source closes both the connection and the listener.
// If ctx is cancelled before a publisher arrives, Accept returns ctx.Err().
func Accept(ctx context.Context, addr string, latency time.Duration, log *slog.Logger) (*ingest.Source, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-listener")
	if latency <= 0 {
		latency = DefaultLatency
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latency

	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	log.Info("listening", "addr", addr)

	var busy atomic.Bool
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" || busy.Load() {
			return srtgo.RejPeer
		}
		return 0
	})

	accepted := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-accepted:
		}
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("accept error", "error", err)
			continue
		}
		busy.Store(true)
		close(accepted)

		key := extractStreamKey(conn.StreamID())
		log.Info("publish", "stream_key", key, "remote", conn.RemoteAddr())

		src := ingest.NewSource(key, ingest.ProtocolSRT, conn, func() error {
			err := conn.Close()
			l.Close()
			return err
		})
		src.SetRemoteAddr(conn.RemoteAddr().String())
		return src, nil
	}
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
