// Package stream tracks the elementary streams discovered in an input and
// owns the packet queue that carries each one from the demuxer to its
// consumer.
package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/zsiec/packetq/packetqueue"
)

// Kind classifies an elementary stream.
type Kind int

// Stream kinds.
const (
	KindVideo Kind = iota
	KindAudio
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "data"
	}
}

// Stream is one elementary stream and its packet queue.
type Stream struct {
	Index     int
	PID       uint16
	Kind      Kind
	Codec     string
	StartedAt time.Time
	Queue     *packetqueue.Queue
}

// Manager registers streams in discovery order and applies queue-wide
// operations (flush on seek, abort on shutdown) to all of them.
type Manager struct {
	log       *slog.Logger
	queueOpts []packetqueue.Option

	mu      sync.RWMutex
	streams map[int]*Stream
	byPID   map[uint16]*Stream
	onNew   func(*Stream)
	aborted bool
}

// NewManager creates an empty manager. Every stream's queue is built with
// queueOpts. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger, queueOpts ...packetqueue.Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:       log.With("component", "stream-manager"),
		queueOpts: queueOpts,
		streams:   make(map[int]*Stream),
		byPID:     make(map[uint16]*Stream),
	}
}

// OnStream sets a callback invoked, outside the manager lock, for every
// stream created after the call.
func (m *Manager) OnStream(fn func(*Stream)) {
	m.mu.Lock()
	m.onNew = fn
	m.mu.Unlock()
}

// Create registers a stream for pid. Returns the stream and true if
// created, or the existing stream and false if pid is already known.
func (m *Manager) Create(pid uint16, kind Kind, codec string) (*Stream, bool) {
	m.mu.Lock()
	if s, ok := m.byPID[pid]; ok {
		m.mu.Unlock()
		return s, false
	}

	s := &Stream{
		Index:     len(m.streams),
		PID:       pid,
		Kind:      kind,
		Codec:     codec,
		StartedAt: time.Now(),
		Queue:     packetqueue.New(m.queueOpts...),
	}
	if m.aborted {
		s.Queue.Abort()
	}
	m.streams[s.Index] = s
	m.byPID[pid] = s
	onNew := m.onNew
	m.mu.Unlock()

	m.log.Info("stream created", "index", s.Index, "pid", pid, "kind", kind, "codec", codec)
	if onNew != nil {
		onNew(s)
	}
	return s, true
}

// Get returns the stream with the given index.
func (m *Manager) Get(index int) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[index]
	return s, ok
}

// ByPID returns the stream carried on pid.
func (m *Manager) ByPID(pid uint16) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byPID[pid]
	return s, ok
}

// List returns all streams ordered by index.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := lo.Values(m.streams)
	m.mu.RUnlock()

	sort.Slice(streams, func(i, j int) bool {
		return streams[i].Index < streams[j].Index
	})
	return streams
}

// Len returns the number of registered streams.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// Totals sums buffered packets and bytes across every queue.
func (m *Manager) Totals() (packets int, bytes int64) {
	stats := lo.Map(m.List(), func(s *Stream, _ int) packetqueue.Stats {
		return s.Queue.Stats()
	})
	packets = lo.SumBy(stats, func(st packetqueue.Stats) int { return st.Packets })
	bytes = lo.SumBy(stats, func(st packetqueue.Stats) int64 { return st.Bytes })
	return packets, bytes
}

// MinPackets returns the smallest queue length across all streams, or zero
// if there are none.
func (m *Manager) MinPackets() int {
	streams := m.List()
	if len(streams) == 0 {
		return 0
	}
	return lo.Min(lo.Map(streams, func(s *Stream, _ int) int {
		return s.Queue.Len()
	}))
}

// MaxPackets returns the largest queue length across all streams, or zero
// when there are none.
func (m *Manager) MaxPackets() int {
	streams := m.List()
	if len(streams) == 0 {
		return 0
	}
	return lo.Max(lo.Map(streams, func(s *Stream, _ int) int {
		return s.Queue.Len()
	}))
}

// FlushAll discards the buffered packets of every stream.
func (m *Manager) FlushAll() {
	for _, s := range m.List() {
		s.Queue.Flush()
	}
}

// PutNullAll appends an end-of-stream marker to every queue.
func (m *Manager) PutNullAll() error {
	for _, s := range m.List() {
		if err := s.Queue.PutNull(s.Index); err != nil {
			return err
		}
	}
	return nil
}

// AbortAll aborts every queue, releasing all blocked consumers. Streams
// created afterwards start out aborted.
func (m *Manager) AbortAll() {
	m.mu.Lock()
	m.aborted = true
	m.mu.Unlock()

	for _, s := range m.List() {
		s.Queue.Abort()
	}
}

// DestroyAll destroys every queue and forgets all streams. Callers must
// have stopped all producers and consumers first.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	streams := lo.Values(m.streams)
	m.streams = make(map[int]*Stream)
	m.byPID = make(map[uint16]*Stream)
	m.mu.Unlock()

	for _, s := range streams {
		s.Queue.Destroy()
	}
	if len(streams) > 0 {
		m.log.Info("streams destroyed", "count", len(streams))
	}
}
