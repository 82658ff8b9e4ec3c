package media

import (
	"errors"
	"testing"
)

func TestBufferRefCounting(t *testing.T) {
	t.Parallel()

	var released int
	b := NewBufferFunc([]byte{1, 2, 3}, func(data []byte) {
		if len(data) != 3 {
			t.Errorf("release got %d bytes, want 3", len(data))
		}
		released++
	})

	b.Ref()
	if got := b.Refs(); got != 2 {
		t.Fatalf("Refs: got %d, want 2", got)
	}
	if b.Unref() {
		t.Error("first Unref reported last reference")
	}
	if released != 0 {
		t.Error("released before last reference")
	}
	if !b.Unref() {
		t.Error("second Unref did not report last reference")
	}
	if released != 1 {
		t.Errorf("released: got %d, want 1", released)
	}
}

func TestBufferOverRelease(t *testing.T) {
	t.Parallel()

	b := NewBuffer([]byte{1})
	b.Unref()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on over-release")
		}
	}()
	b.Unref()
}

func TestPacketRefShareBuffer(t *testing.T) {
	t.Parallel()

	p := NewPacket(2, []byte{7, 8})
	p.PTS = 9000
	dup := p.Ref()

	if dup.Buf != p.Buf {
		t.Fatal("Ref did not share the buffer")
	}
	if got := p.Buf.Refs(); got != 2 {
		t.Fatalf("Refs: got %d, want 2", got)
	}

	p.Unref()
	if p.Data != nil || p.Size != 0 || p.Buf != nil {
		t.Error("Unref did not clear the descriptor")
	}
	if p.StreamIndex != 2 || p.PTS != 9000 {
		t.Error("Unref cleared stream metadata")
	}
	if dup.Data[1] != 8 {
		t.Error("shared payload changed after the other holder released")
	}
	if got := dup.Buf.Refs(); got != 1 {
		t.Errorf("Refs after Unref: got %d, want 1", got)
	}
}

func TestNullPacket(t *testing.T) {
	t.Parallel()

	p := NullPacket(3)
	if !p.IsNull() {
		t.Error("IsNull: got false")
	}
	if p.StreamIndex != 3 {
		t.Errorf("StreamIndex: got %d, want 3", p.StreamIndex)
	}
	if err := p.MakeRefCounted(); err != nil {
		t.Errorf("MakeRefCounted on null packet: %v", err)
	}
	if NewPacket(0, []byte{1}).IsNull() {
		t.Error("packet with payload reported as null")
	}
}

func TestMakeRefCounted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pkt     *Packet
		wantErr error
	}{
		{"copies unowned payload", &Packet{Data: []byte{1, 2}, Size: 2}, nil},
		{"keeps existing buffer", NewPacket(0, []byte{1}), nil},
		{"size larger than data", &Packet{Data: []byte{1}, Size: 5}, ErrNotShareable},
		{"negative size", &Packet{Size: -1}, ErrNotShareable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.pkt.MakeRefCounted()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if err == nil && tt.pkt.Buf == nil {
				t.Error("packet has no buffer after MakeRefCounted")
			}
		})
	}
}

func TestPacketFlags(t *testing.T) {
	t.Parallel()

	p := &Packet{Flags: FlagKeyframe | FlagDiscontinuity}
	if !p.IsKeyframe() {
		t.Error("IsKeyframe: got false")
	}
	if (&Packet{Flags: FlagDiscontinuity}).IsKeyframe() {
		t.Error("IsKeyframe: got true without keyframe flag")
	}
}
