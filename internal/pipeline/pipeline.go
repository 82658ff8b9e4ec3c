// Package pipeline runs one input through the demuxer and a consumer per
// elementary stream, owning the lifetime of every packet queue in between.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/skiplist"
	"github.com/zsiec/ccx"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/packetq/internal/decode"
	"github.com/zsiec/packetq/internal/demux"
	"github.com/zsiec/packetq/internal/stream"
	"github.com/zsiec/packetq/packetqueue"
)

// Config controls a pipeline run.
type Config struct {
	Demux demux.Config

	// NodeLimit caps the packets each stream queue may hold. Zero means no
	// cap; the demuxer's backpressure settings normally keep queues short.
	NodeLimit int

	// OnCaption receives decoded CEA-608 captions from H.264 streams. Nil
	// disables caption decoding.
	OnCaption func(streamIndex int, frame *ccx.CaptionFrame)

	// Sink, if set, receives every packet after the built-in stats sink.
	Sink decode.Sink

	// Closer, if set, is closed once when the run stops, whether by
	// cancellation or a failing stage. It should close the input so that a
	// demuxer blocked in Read returns.
	Closer io.Closer
}

// StreamSnapshot describes one elementary stream.
type StreamSnapshot struct {
	Index     int                `json:"index"`
	PID       uint16             `json:"pid"`
	Kind      string             `json:"kind"`
	Codec     string             `json:"codec"`
	Queue     packetqueue.Stats  `json:"queue"`
	Delivered decode.StreamStats `json:"delivered"`
	Paused    bool               `json:"paused"`
}

// Snapshot is a point-in-time view of a pipeline.
type Snapshot struct {
	ID       string           `json:"id"`
	Key      string           `json:"key"`
	UptimeMs int64            `json:"uptimeMs"`
	Demux    demux.Stats      `json:"demux"`
	Captions int64            `json:"captions"`
	Streams  []StreamSnapshot `json:"streams"`
}

type consumer struct {
	stream   *stream.Stream
	consumer *decode.Consumer
	captions *decode.CaptionSink
}

// Pipeline couples a Demuxer, the stream manager whose queues it fills,
// and the consumers draining them.
type Pipeline struct {
	log       *slog.Logger
	id        string
	key       string
	cfg       Config
	startTime time.Time

	streams *stream.Manager
	demuxer *demux.Demuxer
	stats   *decode.StatsSink

	mu        sync.Mutex
	consumers *skiplist.SkipList // stream index -> *consumer
	paused    bool
}

// New creates a Pipeline that demuxes input. If input implements
// io.Seeker the pipeline supports SeekTo. If log is nil, slog.Default() is
// used.
func New(key string, input io.Reader, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	log = log.With("input", key, "run", id)

	var opts []packetqueue.Option
	if cfg.NodeLimit > 0 {
		opts = append(opts, packetqueue.WithNodeLimit(cfg.NodeLimit))
		cfg.Demux.NodeLimit = cfg.NodeLimit
	}

	p := &Pipeline{
		log:       log,
		id:        id,
		key:       key,
		cfg:       cfg,
		startTime: time.Now(),
		streams:   stream.NewManager(log, opts...),
		stats:     decode.NewStatsSink(),
		consumers: skiplist.New(skiplist.Int),
	}
	p.demuxer = demux.NewDemuxer(input, p.streams, cfg.Demux, log)
	return p
}

// ID returns the unique identifier of this pipeline run.
func (p *Pipeline) ID() string { return p.id }

// Run demuxes the input and consumes every stream it carries. It returns
// once the input has been fully consumed, ctx is cancelled, or any stage
// fails. In every case all queues are aborted, all goroutines have exited
// and all queues are destroyed by the time Run returns. Cancellation is
// not reported as an error.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	p.streams.OnStream(func(s *stream.Stream) {
		c := p.addConsumer(s)
		g.Go(func() error {
			return c.Run()
		})
	})

	g.Go(func() error {
		// Consumers drain what is buffered, including the end-of-stream
		// markers, before the abort stops them.
		defer p.streams.AbortAll()
		err := p.demuxer.Run(gctx)
		p.log.Info("demuxer exited", "error", err)
		return err
	})

	stop := make(chan struct{})
	go func() {
		select {
		case <-gctx.Done():
			p.streams.AbortAll()
			if p.cfg.Closer != nil {
				if err := p.cfg.Closer.Close(); err != nil {
					p.log.Debug("closing input", "error", err)
				}
			}
		case <-stop:
		}
	}()

	err := g.Wait()
	close(stop)
	p.streams.DestroyAll()

	snap := p.Snapshot()
	p.log.Info("pipeline finished",
		"packets", snap.Demux.Packets, "bytes", snap.Demux.Bytes,
		"seeks", snap.Demux.Seeks, "streams", len(snap.Streams))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) addConsumer(s *stream.Stream) *decode.Consumer {
	sinks := decode.MultiSink{p.stats}

	var captions *decode.CaptionSink
	if p.cfg.OnCaption != nil && s.Codec == "h264" {
		idx := s.Index
		captions = decode.NewCaptionSink(func(f *ccx.CaptionFrame) {
			p.cfg.OnCaption(idx, f)
		}, p.log)
		sinks = append(sinks, captions)
	}
	if p.cfg.Sink != nil {
		sinks = append(sinks, p.cfg.Sink)
	}

	c := decode.NewConsumer(s, sinks, decode.Config{}, p.log)

	p.mu.Lock()
	if p.paused {
		c.Pause()
	}
	p.consumers.Set(s.Index, &consumer{stream: s, consumer: c, captions: captions})
	p.mu.Unlock()
	return c
}

func (p *Pipeline) consumerList() []*consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*consumer, 0, p.consumers.Len())
	for e := p.consumers.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*consumer))
	}
	return out
}

// SeekTo asks the demuxer to continue from the given byte offset. Packets
// buffered before the seek point are flushed.
func (p *Pipeline) SeekTo(offset int64) error {
	return p.demuxer.SeekTo(offset)
}

// Pause stops every consumer, current and future, from taking packets.
// The demuxer keeps filling queues until backpressure stops it.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	for _, c := range p.consumerList() {
		c.consumer.Pause()
	}
}

// Resume undoes Pause.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	for _, c := range p.consumerList() {
		c.consumer.Resume()
	}
}

// Step hands at most one packet per stream to the sinks without blocking
// and returns how many packets were handled. Only meaningful while paused.
func (p *Pipeline) Step() (int, error) {
	n := 0
	for _, c := range p.consumerList() {
		ok, err := c.consumer.Step()
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Snapshot returns queue and delivery statistics for every stream seen so
// far.
func (p *Pipeline) Snapshot() Snapshot {
	delivered := p.stats.Snapshot()
	snap := Snapshot{
		ID:       p.id,
		Key:      p.key,
		UptimeMs: time.Since(p.startTime).Milliseconds(),
		Demux:    p.demuxer.Stats(),
	}
	for _, c := range p.consumerList() {
		s := c.stream
		snap.Streams = append(snap.Streams, StreamSnapshot{
			Index:     s.Index,
			PID:       s.PID,
			Kind:      s.Kind.String(),
			Codec:     s.Codec,
			Queue:     s.Queue.Stats(),
			Delivered: delivered[s.Index],
			Paused:    c.consumer.Paused(),
		})
		if c.captions != nil {
			snap.Captions += c.captions.Captions()
		}
	}
	return snap
}
