// Package ingest opens the byte sources the demuxer reads from and keeps
// connection-level counters for them.
package ingest

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Protocols a Source can be opened with.
const (
	ProtocolFile = "file"
	ProtocolSRT  = "srt"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("ingest: source closed")

// Stats captures source-level metrics.
type Stats struct {
	Protocol      string `json:"protocol"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr,omitempty"`
}

// Source is an open input. Reads are counted; Close releases whatever the
// source was opened on (file, SRT connection).
type Source struct {
	Key       string
	Protocol  string
	StartedAt time.Time

	r       io.Reader
	closeFn func() error

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
	closed        atomic.Bool
	closeOnce     sync.Once
	closeErr      error
}

// NewSource wraps r. closeFn, if non-nil, runs once on the first Close.
func NewSource(key, protocol string, r io.Reader, closeFn func() error) *Source {
	return &Source{
		Key:       key,
		Protocol:  protocol,
		StartedAt: time.Now(),
		r:         r,
		closeFn:   closeFn,
	}
}

// Read implements io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n, err := s.r.Read(p)
	if n > 0 {
		s.RecordRead(n)
	}
	return n, err
}

// RecordRead increments the byte and read counters.
func (s *Source) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the peer address for diagnostics.
func (s *Source) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Seekable reports whether the underlying reader supports seeking.
func (s *Source) Seekable() bool {
	_, ok := s.r.(io.Seeker)
	return ok
}

// Reader returns the source as the demuxer should see it: an io.ReadSeeker
// when the underlying reader can seek, a plain io.Reader otherwise.
func (s *Source) Reader() io.Reader {
	if seeker, ok := s.r.(io.Seeker); ok {
		return &seekableSource{Source: s, seeker: seeker}
	}
	return s
}

// Close releases the source. Subsequent reads fail with ErrClosed.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// Stats returns a snapshot of the source counters.
func (s *Source) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		Protocol:      s.Protocol,
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

type seekableSource struct {
	*Source
	seeker io.Seeker
}

func (s *seekableSource) Seek(offset int64, whence int) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.seeker.Seek(offset, whence)
}
