package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/akamensky/argparse"
	"github.com/gookit/color"
	"github.com/zsiec/ccx"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/packetq/internal/config"
	"github.com/zsiec/packetq/internal/demux"
	"github.com/zsiec/packetq/internal/ingest"
	srtingest "github.com/zsiec/packetq/internal/ingest/srt"
	"github.com/zsiec/packetq/internal/pipeline"
)

var version = "dev"

type seekPlan struct {
	offset int64
	after  time.Duration
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	parser := argparse.NewParser("packetq", "Play an MPEG-TS input through per-stream packet queues")
	input := parser.String("i", "input", &argparse.Options{Help: "Transport stream file or srt://host:port listen address", Default: cfg.Input})
	maxBytes := parser.Int("", "max-queue-bytes", &argparse.Options{Help: "Pause demuxing above this many buffered bytes", Default: int(cfg.MaxQueueBytes)})
	minPackets := parser.Int("", "min-packets", &argparse.Options{Help: "Pause demuxing while every queue holds more packets than this", Default: cfg.MinPackets})
	nodeLimit := parser.Int("", "node-limit", &argparse.Options{Help: "Hard cap on packets per queue (0 = none)", Default: cfg.NodeLimit})
	seekOffset := parser.Int("", "seek", &argparse.Options{Help: "Byte offset to seek to", Default: -1})
	seekAfter := parser.String("", "seek-after", &argparse.Options{Help: "Delay before seeking, e.g. 500ms", Default: "0s"})
	noCaptions := parser.Flag("", "no-captions", &argparse.Options{Help: "Disable CEA-608 caption decoding"})
	jsonOut := parser.Flag("", "json", &argparse.Options{Help: "Print final statistics as JSON"})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Debug logging"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(2)
	}

	cfg.Input = *input
	cfg.MaxQueueBytes = int64(*maxBytes)
	cfg.MinPackets = *minPackets
	cfg.NodeLimit = *nodeLimit
	if *noCaptions {
		cfg.Captions = false
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, parser.Usage(nil))
		os.Exit(2)
	}

	var seek *seekPlan
	if *seekOffset >= 0 {
		d, err := time.ParseDuration(*seekAfter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --seek-after: %v\n", err)
			os.Exit(2)
		}
		seek = &seekPlan{offset: int64(*seekOffset), after: d}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("packetq starting", "version", version, "config", cfg.String())

	if err := run(ctx, cfg, seek, *jsonOut); err != nil {
		slog.Error("packetq failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, seek *seekPlan, jsonOut bool) error {
	src, err := openInput(ctx, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer src.Close()

	pcfg := pipeline.Config{
		Demux: demux.Config{
			MaxQueueBytes:    cfg.MaxQueueBytes,
			MinPackets:       cfg.MinPackets,
			BackpressurePoll: cfg.BackpressurePoll,
		},
		NodeLimit: cfg.NodeLimit,
		// Closing the source unblocks a demuxer stuck in a network read.
		Closer: src,
	}
	if cfg.Captions {
		pcfg.OnCaption = func(streamIndex int, f *ccx.CaptionFrame) {
			slog.Info("caption", "stream", streamIndex, "channel", f.Channel, "pts_us", f.PTS, "text", f.Text)
		}
	}

	p := pipeline.New(src.Key, src.Reader(), pcfg, nil)

	finished := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(finished)
		return p.Run(gctx)
	})
	if seek != nil {
		g.Go(func() error {
			select {
			case <-time.After(seek.after):
			case <-finished:
				slog.Warn("input finished before the seek was due", "offset", seek.offset)
				return nil
			}
			if err := p.SeekTo(seek.offset); err != nil {
				if errors.Is(err, demux.ErrStopped) {
					slog.Warn("input finished before the seek was due", "offset", seek.offset)
					return nil
				}
				return fmt.Errorf("seek to %d: %w", seek.offset, err)
			}
			slog.Info("seek requested", "offset", seek.offset)
			return nil
		})
	}

	err = g.Wait()
	printStats(os.Stdout, p.Snapshot(), src.Stats(), jsonOut)
	return err
}

func openInput(ctx context.Context, cfg *config.Config) (*ingest.Source, error) {
	if cfg.IsSRT() {
		return srtingest.Accept(ctx, cfg.SRTAddr(), cfg.SRTLatency, nil)
	}
	return ingest.OpenFile(cfg.Input)
}

type report struct {
	Pipeline pipeline.Snapshot `json:"pipeline"`
	Ingest   ingest.Stats      `json:"ingest"`
}

func printStats(w io.Writer, snap pipeline.Snapshot, in ingest.Stats, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report{Pipeline: snap, Ingest: in}); err != nil {
			slog.Error("encode stats", "error", err)
		}
		return
	}

	fmt.Fprintf(w, "%s %s  input %s (%s)  read %d bytes in %d reads\n",
		color.Bold.Sprint("run"), snap.ID, color.Cyan.Sprint(snap.Key), in.Protocol,
		in.BytesReceived, in.ReadCount)
	fmt.Fprintf(w, "demuxed %d packets, %d bytes, %d seeks, %d skipped; %d captions\n\n",
		snap.Demux.Packets, snap.Demux.Bytes, snap.Demux.Seeks, snap.Demux.Skipped, snap.Captions)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, color.Bold.Sprint("STREAM\tPID\tKIND\tCODEC\tPACKETS\tBYTES\tKEYFRAMES\tDISCONT\tDURATION\tEOS"))
	for _, s := range snap.Streams {
		d := s.Delivered
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%d\n",
			s.Index, s.PID, s.Kind, s.Codec, d.Packets, d.Bytes,
			d.Keyframes, d.Discontinuity, d.Duration, d.EndOfStreams)
	}
	tw.Flush()
}
