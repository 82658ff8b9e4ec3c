// Package decode holds the consumer side of packetq: one Consumer per
// elementary stream pulls packets from that stream's queue and hands them
// to a Sink.
package decode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/packetq/internal/stream"
	"github.com/zsiec/packetq/media"
	"github.com/zsiec/packetq/packetqueue"
)

const defaultPausePoll = 10 * time.Millisecond

// Sink receives the packets of one or more streams. The packet passed to
// WritePacket is only valid for the duration of the call; a sink that keeps
// the payload must take its own reference with Ref.
type Sink interface {
	WritePacket(pkt *media.Packet) error
	EndOfStream(streamIndex int)
}

// Config controls consumer behaviour.
type Config struct {
	// ExitOnEOS makes Run return once the stream's null packet arrives.
	// Leave it false when the producer may seek after the end of input.
	ExitOnEOS bool

	// PausePoll is how often a paused consumer checks for resume or abort.
	PausePoll time.Duration
}

// Consumer drains one stream's queue into a Sink.
type Consumer struct {
	log   *slog.Logger
	index int
	queue *packetqueue.Queue
	sink  Sink
	cfg   Config

	// mu serializes delivery with Pause, so no packet reaches the sink
	// after Pause returns. held is a packet taken by a Get that was already
	// parked when the consumer was paused.
	mu   sync.Mutex
	held *media.Packet

	paused  atomic.Bool
	packets atomic.Int64
	eos     atomic.Int64
}

// NewConsumer creates a consumer for s. If log is nil, slog.Default() is
// used.
func NewConsumer(s *stream.Stream, sink Sink, cfg Config, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = defaultPausePoll
	}
	return &Consumer{
		log:   log.With("component", "consumer", "stream", s.Index, "kind", s.Kind),
		index: s.Index,
		queue: s.Queue,
		sink:  sink,
		cfg:   cfg,
	}
}

// Pause stops the consumer from handing packets to the sink until Resume.
// A packet being delivered when Pause is called finishes first.
func (c *Consumer) Pause() {
	c.mu.Lock()
	c.paused.Store(true)
	c.mu.Unlock()
}

// Resume undoes Pause.
func (c *Consumer) Resume() {
	c.mu.Lock()
	c.paused.Store(false)
	c.mu.Unlock()
}

// Paused reports whether the consumer is paused.
func (c *Consumer) Paused() bool { return c.paused.Load() }

// Packets returns the number of packets handed to the sink.
func (c *Consumer) Packets() int64 { return c.packets.Load() }

// EndOfStreams returns how many null packets the consumer has seen.
func (c *Consumer) EndOfStreams() int64 { return c.eos.Load() }

// Run consumes packets until the queue is aborted and drained, the sink
// fails, or, with ExitOnEOS, the end of the stream is reached. An abort is
// the normal way to stop a consumer and makes Run return nil.
func (c *Consumer) Run() error {
	for {
		if c.paused.Load() {
			if c.queue.Aborted() {
				c.dropHeld()
				c.log.Debug("aborted while paused")
				return nil
			}
			time.Sleep(c.cfg.PausePoll)
			continue
		}

		pkt := c.takeHeld()
		if pkt == nil {
			var ok bool
			var err error
			pkt, ok, err = c.queue.Get(true)
			if err != nil {
				return c.stopped(err)
			}
			if !ok {
				continue
			}
		}

		// Pause may have been requested while Get was parked.
		c.mu.Lock()
		if c.paused.Load() {
			c.held = pkt
			c.mu.Unlock()
			continue
		}
		done, err := c.handle(pkt)
		c.mu.Unlock()
		if err != nil || done {
			return err
		}
	}
}

// Step handles at most one packet without blocking and reports whether a
// packet was available. It is meant for single-stepping a paused consumer.
func (c *Consumer) Step() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkt := c.held
	c.held = nil
	if pkt == nil {
		var ok bool
		var err error
		pkt, ok, err = c.queue.Get(false)
		if err != nil {
			return false, c.stopped(err)
		}
		if !ok {
			return false, nil
		}
	}
	_, err := c.handle(pkt)
	return true, err
}

func (c *Consumer) takeHeld() *media.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	pkt := c.held
	c.held = nil
	return pkt
}

func (c *Consumer) dropHeld() {
	if pkt := c.takeHeld(); pkt != nil {
		pkt.Unref()
	}
}

func (c *Consumer) handle(pkt *media.Packet) (bool, error) {
	if pkt.IsNull() {
		c.eos.Add(1)
		c.sink.EndOfStream(c.index)
		c.log.Debug("end of stream")
		return c.cfg.ExitOnEOS, nil
	}

	err := c.sink.WritePacket(pkt)
	pkt.Unref()
	if err != nil {
		return true, fmt.Errorf("decode: stream %d: %w", c.index, err)
	}
	c.packets.Add(1)
	return false, nil
}

func (c *Consumer) stopped(err error) error {
	if errors.Is(err, packetqueue.ErrAborted) {
		c.log.Debug("queue aborted", "packets", c.packets.Load())
		return nil
	}
	return fmt.Errorf("decode: stream %d: %w", c.index, err)
}
