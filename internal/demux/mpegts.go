package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astits"

	"github.com/zsiec/packetq/internal/h264"
	"github.com/zsiec/packetq/internal/stream"
	"github.com/zsiec/packetq/media"
)

const (
	tsPacketSize = 188

	// maxConsecutiveErrors bounds how many read/parse failures in a row are
	// skipped before the demuxer gives up on the input.
	maxConsecutiveErrors = 32

	defaultBackpressurePoll = 10 * time.Millisecond
)

var (
	// ErrNotSeekable is returned by SeekTo when the input is not an io.Seeker.
	ErrNotSeekable = errors.New("demux: input is not seekable")

	// ErrStopped is returned by SeekTo once Run has returned.
	ErrStopped = errors.New("demux: not running")
)

// Config controls producer-side backpressure and end-of-input handling.
type Config struct {
	// MaxQueueBytes pauses reading while the queues together buffer more
	// than this many payload bytes. Zero disables the check.
	MaxQueueBytes int64

	// MinPackets pauses reading while every queue holds more than this
	// many packets. Zero disables the check.
	MinPackets int

	// NodeLimit is the per-queue packet cap the queues were created with.
	// Reading pauses while any queue is one packet short of it, leaving room
	// for the end-of-stream marker. Zero means the queues are uncapped.
	NodeLimit int

	// BackpressurePoll is how often a paused demuxer re-checks the queues.
	BackpressurePoll time.Duration

	// HoldAtEOF keeps Run alive after the end of input so that a later
	// SeekTo can restart reading. Run then only returns when ctx is cancelled.
	HoldAtEOF bool
}

// Stats holds producer counters.
type Stats struct {
	Packets int64 `json:"packets"`
	Bytes   int64 `json:"bytes"`
	Seeks   int64 `json:"seeks"`
	Skipped int64 `json:"skipped"`
}

// Demuxer reads an MPEG-TS byte stream, registers every supported
// elementary stream with the stream manager, and puts each PES payload as
// a packet on that stream's queue. It is the single producer for all of
// the manager's queues.
type Demuxer struct {
	log     *slog.Logger
	reader  io.Reader
	streams *stream.Manager
	cfg     Config

	seekReq chan int64
	lastPTS map[int]int64
	discont map[int]bool

	packets atomic.Int64
	bytes   atomic.Int64
	seeks   atomic.Int64
	skipped atomic.Int64
	stopped atomic.Bool
}

// NewDemuxer creates a Demuxer reading from r. If log is nil,
// slog.Default() is used.
func NewDemuxer(r io.Reader, streams *stream.Manager, cfg Config, log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BackpressurePoll <= 0 {
		cfg.BackpressurePoll = defaultBackpressurePoll
	}
	return &Demuxer{
		log:     log.With("component", "demux"),
		reader:  r,
		streams: streams,
		cfg:     cfg,
		seekReq: make(chan int64, 1),
		lastPTS: make(map[int]int64),
		discont: make(map[int]bool),
	}
}

// Stats returns a snapshot of the producer counters.
func (d *Demuxer) Stats() Stats {
	return Stats{
		Packets: d.packets.Load(),
		Bytes:   d.bytes.Load(),
		Seeks:   d.seeks.Load(),
		Skipped: d.skipped.Load(),
	}
}

// SeekTo asks the demuxer to continue from byte offset, rounded down to a
// transport packet boundary. Buffered packets are flushed when the seek is
// carried out. A newer request replaces one not yet serviced. A request
// made before Run starts is serviced once it does; after Run has returned
// SeekTo fails with ErrStopped.
func (d *Demuxer) SeekTo(offset int64) error {
	if _, ok := d.reader.(io.Seeker); !ok {
		return ErrNotSeekable
	}
	if offset < 0 {
		return fmt.Errorf("demux: negative seek offset %d", offset)
	}
	if d.stopped.Load() {
		return ErrStopped
	}
	for {
		select {
		case d.seekReq <- offset:
			return nil
		default:
		}
		select {
		case <-d.seekReq:
		default:
		}
	}
}

// Run demuxes until the input ends, ctx is cancelled, or the input fails.
// At the end of input every stream receives a null packet.
func (d *Demuxer) Run(ctx context.Context) error {
	defer d.stopped.Store(true)

	dmx := d.newTSDemuxer(ctx)
	failures := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case off := <-d.seekReq:
			if err := d.seek(off); err != nil {
				return err
			}
			dmx = d.newTSDemuxer(ctx)
			continue
		default:
		}

		if err := d.waitForRoom(ctx); err != nil {
			return err
		}

		data, err := dmx.NextData()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, astits.ErrNoMorePackets) {
				if err := d.endOfInput(); err != nil {
					return err
				}
				if !d.cfg.HoldAtEOF {
					return nil
				}
				off, err := d.awaitSeek(ctx)
				if err != nil {
					return err
				}
				if err := d.seek(off); err != nil {
					return err
				}
				dmx = d.newTSDemuxer(ctx)
				continue
			}
			failures++
			d.skipped.Add(1)
			if failures >= maxConsecutiveErrors {
				return fmt.Errorf("demux: giving up after %d errors: %w", failures, err)
			}
			d.log.Debug("skipping unreadable data", "error", err)
			continue
		}
		failures = 0

		switch {
		case data.PMT != nil:
			d.registerStreams(data.PMT)
		case data.PES != nil:
			if err := d.putPES(data); err != nil {
				return err
			}
		}
	}
}

func (d *Demuxer) newTSDemuxer(ctx context.Context) *astits.Demuxer {
	return astits.NewDemuxer(ctx, d.reader, astits.DemuxerOptPacketSize(tsPacketSize))
}

func (d *Demuxer) registerStreams(pmt *astits.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		kind, codec, ok := classify(es.StreamType)
		if !ok {
			d.log.Debug("ignoring elementary stream", "pid", es.ElementaryPID, "type", es.StreamType)
			continue
		}
		d.streams.Create(es.ElementaryPID, kind, codec)
	}
}

func classify(t astits.StreamType) (stream.Kind, string, bool) {
	switch t {
	case astits.StreamTypeH264Video:
		return stream.KindVideo, "h264", true
	case astits.StreamTypeH265Video:
		return stream.KindVideo, "h265", true
	case astits.StreamTypeAACAudio:
		return stream.KindAudio, "aac", true
	case astits.StreamTypePrivateData:
		return stream.KindData, "private", true
	case astits.StreamTypeMetadata:
		return stream.KindData, "metadata", true
	}
	return 0, "", false
}

func (d *Demuxer) putPES(data *astits.DemuxerData) error {
	s, ok := d.streams.ByPID(data.PID)
	if !ok || len(data.PES.Data) == 0 {
		return nil
	}

	pkt := media.NewPacket(s.Index, data.PES.Data)
	pkt.PID = data.PID

	if h := data.PES.Header; h != nil && h.OptionalHeader != nil {
		if h.OptionalHeader.PTS != nil {
			pkt.PTS = h.OptionalHeader.PTS.Base
		}
		pkt.DTS = pkt.PTS
		if h.OptionalHeader.DTS != nil {
			pkt.DTS = h.OptionalHeader.DTS.Base
		}
	}

	if fp := data.FirstPacket; fp != nil && fp.AdaptationField != nil && fp.AdaptationField.RandomAccessIndicator {
		pkt.Flags |= media.FlagKeyframe
	} else if s.Codec == "h264" && h264.ContainsIDR(pkt.Data) {
		pkt.Flags |= media.FlagKeyframe
	} else if s.Codec == "h265" && h264.ContainsHEVCIRAP(pkt.Data) {
		pkt.Flags |= media.FlagKeyframe
	}

	if d.discont[s.Index] {
		pkt.Flags |= media.FlagDiscontinuity
		delete(d.discont, s.Index)
	}

	if prev, ok := d.lastPTS[s.Index]; ok && pkt.PTS > prev {
		pkt.Duration = time.Duration(pkt.PTS-prev) * time.Second / 90000
	}
	d.lastPTS[s.Index] = pkt.PTS

	size := int64(pkt.Size)
	if err := s.Queue.Put(pkt); err != nil {
		return fmt.Errorf("demux: queue stream %d: %w", s.Index, err)
	}
	d.packets.Add(1)
	d.bytes.Add(size)
	return nil
}

func (d *Demuxer) endOfInput() error {
	d.log.Info("end of input", "packets", d.packets.Load(), "streams", d.streams.Len())
	if err := d.streams.PutNullAll(); err != nil {
		return fmt.Errorf("demux: signal end of stream: %w", err)
	}
	return nil
}

func (d *Demuxer) awaitSeek(ctx context.Context) (int64, error) {
	select {
	case off := <-d.seekReq:
		return off, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *Demuxer) seek(offset int64) error {
	seeker := d.reader.(io.Seeker)
	aligned := offset - offset%tsPacketSize
	if _, err := seeker.Seek(aligned, io.SeekStart); err != nil {
		return fmt.Errorf("demux: seek to %d: %w", aligned, err)
	}

	d.streams.FlushAll()
	for _, s := range d.streams.List() {
		d.discont[s.Index] = true
	}
	clear(d.lastPTS)
	d.seeks.Add(1)

	d.log.Info("seek", "offset", aligned)
	return nil
}

// waitForRoom blocks while the queues are over the configured limits. A
// pending seek ends the wait since it is about to flush the queues.
func (d *Demuxer) waitForRoom(ctx context.Context) error {
	if !d.full() {
		return nil
	}

	ticker := time.NewTicker(d.cfg.BackpressurePoll)
	defer ticker.Stop()

	for d.full() && len(d.seekReq) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (d *Demuxer) full() bool {
	if d.cfg.MaxQueueBytes > 0 {
		if _, bytes := d.streams.Totals(); bytes > d.cfg.MaxQueueBytes {
			return true
		}
	}
	if d.cfg.NodeLimit > 0 && d.streams.MaxPackets() >= max(d.cfg.NodeLimit-1, 1) {
		return true
	}
	if d.cfg.MinPackets > 0 && d.streams.Len() > 0 {
		return d.streams.MinPackets() > d.cfg.MinPackets
	}
	return false
}
