package stream

import (
	"errors"
	"testing"

	"github.com/zsiec/packetq/media"
	"github.com/zsiec/packetq/packetqueue"
)

func TestManagerCreateAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, ok := m.Create(256, KindVideo, "h264")
	if !ok {
		t.Fatal("Create returned not-ok for new stream")
	}
	if s.Index != 0 || s.PID != 256 || s.Kind != KindVideo {
		t.Errorf("got index=%d pid=%d kind=%v", s.Index, s.PID, s.Kind)
	}
	if s.Queue == nil {
		t.Fatal("stream has no queue")
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	got, ok := m.Get(0)
	if !ok || got != s {
		t.Error("Get did not return the created stream")
	}
	got, ok = m.ByPID(256)
	if !ok || got != s {
		t.Error("ByPID did not return the created stream")
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	first, _ := m.Create(257, KindAudio, "aac")
	again, ok := m.Create(257, KindAudio, "aac")
	if ok {
		t.Error("duplicate Create should return false")
	}
	if again != first {
		t.Error("duplicate Create should return the existing stream")
	}
	if m.Len() != 1 {
		t.Errorf("Len: got %d, want 1", m.Len())
	}
}

func TestManagerListOrdered(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	for _, pid := range []uint16{300, 200, 100} {
		m.Create(pid, KindData, "")
	}

	streams := m.List()
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}
	for i, s := range streams {
		if s.Index != i {
			t.Errorf("List()[%d].Index = %d", i, s.Index)
		}
	}
	if streams[0].PID != 300 {
		t.Errorf("first stream PID: got %d, want 300", streams[0].PID)
	}
}

func TestManagerOnStream(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	var seen []int
	m.OnStream(func(s *Stream) { seen = append(seen, s.Index) })
	m.Create(1, KindVideo, "h264")
	m.Create(1, KindVideo, "h264")
	m.Create(2, KindAudio, "aac")

	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Errorf("callback indexes: got %v, want [0 1]", seen)
	}
}

func TestManagerTotalsAndFlush(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	v, _ := m.Create(1, KindVideo, "h264")
	a, _ := m.Create(2, KindAudio, "aac")
	v.Queue.Put(media.NewPacket(v.Index, make([]byte, 100)))
	v.Queue.Put(media.NewPacket(v.Index, make([]byte, 50)))
	a.Queue.Put(media.NewPacket(a.Index, make([]byte, 10)))

	packets, bytes := m.Totals()
	if packets != 3 || bytes != 160 {
		t.Errorf("Totals: got (%d, %d), want (3, 160)", packets, bytes)
	}
	if got := m.MinPackets(); got != 1 {
		t.Errorf("MinPackets: got %d, want 1", got)
	}
	if got := m.MaxPackets(); got != 2 {
		t.Errorf("MaxPackets: got %d, want 2", got)
	}

	m.FlushAll()
	packets, bytes = m.Totals()
	if packets != 0 || bytes != 0 {
		t.Errorf("Totals after FlushAll: got (%d, %d), want (0, 0)", packets, bytes)
	}
}

func TestManagerPutNullAndAbort(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create(1, KindVideo, "h264")
	if err := m.PutNullAll(); err != nil {
		t.Fatalf("PutNullAll: %v", err)
	}
	m.AbortAll()

	pkt, ok, err := s.Queue.Get(true)
	if !ok || err != nil || !pkt.IsNull() {
		t.Fatalf("Get: pkt=%v ok=%v err=%v, want null packet", pkt, ok, err)
	}
	if _, _, err := s.Queue.Get(true); !errors.Is(err, packetqueue.ErrAborted) {
		t.Errorf("Get after drain: got %v, want ErrAborted", err)
	}
}

func TestManagerQueueOptions(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, packetqueue.WithNodeLimit(1))

	s, _ := m.Create(1, KindVideo, "h264")
	s.Queue.Put(media.NewPacket(0, []byte{1}))
	if err := s.Queue.Put(media.NewPacket(0, []byte{2})); !errors.Is(err, packetqueue.ErrResourceExhausted) {
		t.Errorf("Put over node limit: got %v, want ErrResourceExhausted", err)
	}
}

func TestManagerDestroyAll(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	s, _ := m.Create(1, KindVideo, "h264")
	m.DestroyAll()

	if m.Len() != 0 {
		t.Errorf("Len after DestroyAll: got %d, want 0", m.Len())
	}
	if err := s.Queue.PutNull(0); !errors.Is(err, packetqueue.ErrDestroyed) {
		t.Errorf("Put after DestroyAll: got %v, want ErrDestroyed", err)
	}
	if m.MinPackets() != 0 {
		t.Error("MinPackets on empty manager should be 0")
	}
	if m.MaxPackets() != 0 {
		t.Error("MaxPackets on empty manager should be 0")
	}
}

func TestManagerCreateAfterAbort(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	m.AbortAll()
	s, _ := m.Create(1, KindVideo, "h264")
	if !s.Queue.Aborted() {
		t.Error("stream created after AbortAll should start aborted")
	}
}
