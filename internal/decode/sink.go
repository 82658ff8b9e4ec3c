package decode

import (
	"errors"
	"sync"
	"time"

	"github.com/zsiec/packetq/media"
)

// StreamStats are the per-stream counters kept by StatsSink.
type StreamStats struct {
	Packets       int64         `json:"packets"`
	Bytes         int64         `json:"bytes"`
	Keyframes     int64         `json:"keyframes"`
	Discontinuity int64         `json:"discontinuities"`
	FirstPTS      int64         `json:"firstPts"`
	LastPTS       int64         `json:"lastPts"`
	EndOfStreams  int64         `json:"endOfStreams"`
	Duration      time.Duration `json:"duration"`
}

// StatsSink counts what each stream delivers.
type StatsSink struct {
	mu      sync.Mutex
	streams map[int]*StreamStats
}

// NewStatsSink returns an empty StatsSink.
func NewStatsSink() *StatsSink {
	return &StatsSink{streams: make(map[int]*StreamStats)}
}

func (s *StatsSink) entry(idx int) *StreamStats {
	st, ok := s.streams[idx]
	if !ok {
		st = &StreamStats{FirstPTS: -1}
		s.streams[idx] = st
	}
	return st
}

// WritePacket implements Sink.
func (s *StatsSink) WritePacket(pkt *media.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entry(pkt.StreamIndex)
	st.Packets++
	st.Bytes += int64(pkt.Size)
	if pkt.IsKeyframe() {
		st.Keyframes++
	}
	if pkt.Flags&media.FlagDiscontinuity != 0 {
		st.Discontinuity++
	}
	if st.FirstPTS < 0 {
		st.FirstPTS = pkt.PTS
	}
	st.LastPTS = pkt.PTS
	st.Duration += pkt.Duration
	return nil
}

// EndOfStream implements Sink.
func (s *StatsSink) EndOfStream(streamIndex int) {
	s.mu.Lock()
	s.entry(streamIndex).EndOfStreams++
	s.mu.Unlock()
}

// Snapshot copies the current counters.
func (s *StatsSink) Snapshot() map[int]StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]StreamStats, len(s.streams))
	for idx, st := range s.streams {
		out[idx] = *st
	}
	return out
}

// MultiSink fans every packet out to several sinks.
type MultiSink []Sink

// WritePacket implements Sink. Every sink sees the packet even if an
// earlier one fails; the errors are joined.
func (m MultiSink) WritePacket(pkt *media.Packet) error {
	var errs []error
	for _, s := range m {
		if err := s.WritePacket(pkt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EndOfStream implements Sink.
func (m MultiSink) EndOfStream(streamIndex int) {
	for _, s := range m {
		s.EndOfStream(streamIndex)
	}
}
