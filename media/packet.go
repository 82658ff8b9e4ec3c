// Package media defines the packet types that flow through the packetq
// pipeline, from demuxing through the per-stream queues to the consumers.
package media

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrNotShareable is returned by MakeRefCounted when a packet's payload
// cannot be placed behind a reference counted Buffer.
var ErrNotShareable = errors.New("media: packet payload is not shareable")

// Buffer is a reference counted byte slice. Several Packets may share one
// Buffer; the release callback runs once the last holder lets go.
type Buffer struct {
	data    []byte
	refs    atomic.Int32
	release func([]byte)
}

// NewBuffer wraps data in a Buffer holding a single reference.
func NewBuffer(data []byte) *Buffer {
	return NewBufferFunc(data, nil)
}

// NewBufferFunc is like NewBuffer but calls release with the underlying
// slice when the reference count drops to zero, so callers can recycle it.
func NewBufferFunc(data []byte, release func([]byte)) *Buffer {
	b := &Buffer{data: data, release: release}
	b.refs.Store(1)
	return b
}

// Bytes returns the buffered data. It must not be used after the caller's
// reference has been released.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int {
	return int(b.refs.Load())
}

// Ref adds a reference and returns b.
func (b *Buffer) Ref() *Buffer {
	b.refs.Add(1)
	return b
}

// Unref drops a reference and reports whether it was the last one.
func (b *Buffer) Unref() bool {
	n := b.refs.Add(-1)
	if n < 0 {
		panic("media: buffer released more times than referenced")
	}
	if n > 0 {
		return false
	}
	if b.release != nil {
		b.release(b.data)
	}
	b.data = nil
	return true
}

// PacketFlags carries per-packet markers set by the demuxer.
type PacketFlags uint8

const (
	// FlagKeyframe marks a random access point.
	FlagKeyframe PacketFlags = 1 << iota
	// FlagDiscontinuity marks the first packet of a stream after a seek.
	FlagDiscontinuity
)

// Packet is one unit of encoded media (a PES payload) belonging to a single
// elementary stream. The descriptor is cheap to copy; the payload lives in
// Buf and is shared, never copied, as the packet moves through queues.
type Packet struct {
	Buf         *Buffer
	Data        []byte
	Size        int
	StreamIndex int
	PID         uint16
	PTS         int64 // 90 kHz
	DTS         int64 // 90 kHz
	Duration    time.Duration
	Flags       PacketFlags
}

// NewPacket builds a packet over data for the given stream. The data is
// wrapped in a fresh Buffer without copying.
func NewPacket(streamIndex int, data []byte) *Packet {
	p := &Packet{
		Data:        data,
		Size:        len(data),
		StreamIndex: streamIndex,
	}
	if len(data) > 0 {
		p.Buf = NewBuffer(data)
	}
	return p
}

// NullPacket returns the end-of-stream sentinel for streamIndex: a packet
// with no payload that signals "no more data for this stream for now".
func NullPacket(streamIndex int) *Packet {
	return &Packet{StreamIndex: streamIndex}
}

// IsNull reports whether p is an end-of-stream sentinel.
func (p *Packet) IsNull() bool {
	return p.Size == 0 && len(p.Data) == 0
}

// IsKeyframe reports whether FlagKeyframe is set.
func (p *Packet) IsKeyframe() bool {
	return p.Flags&FlagKeyframe != 0
}

// MakeRefCounted ensures the payload is backed by a Buffer, copying Data
// into a new one when the packet does not own a Buffer yet.
func (p *Packet) MakeRefCounted() error {
	if p.Size < 0 || p.Size != len(p.Data) {
		return ErrNotShareable
	}
	if p.Buf != nil || p.Size == 0 {
		return nil
	}
	data := make([]byte, p.Size)
	copy(data, p.Data)
	p.Buf = NewBuffer(data)
	p.Data = data
	return nil
}

// Ref returns a new descriptor sharing p's Buffer.
func (p *Packet) Ref() *Packet {
	dup := *p
	if p.Buf != nil {
		dup.Buf = p.Buf.Ref()
	}
	return &dup
}

// Unref releases the payload reference and clears Data and Size. The
// stream index and timestamps are kept.
func (p *Packet) Unref() {
	if p.Buf != nil {
		p.Buf.Unref()
		p.Buf = nil
	}
	p.Data = nil
	p.Size = 0
}
