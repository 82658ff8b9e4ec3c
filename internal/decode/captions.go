package decode

import (
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/ccx"

	"github.com/zsiec/packetq/internal/h264"
	"github.com/zsiec/packetq/media"
)

// CaptionSink decodes CEA-608 captions carried in the SEI NAL units of
// H.264 packets and passes each completed caption to a callback. Packets of
// other codecs should not be routed here.
type CaptionSink struct {
	log       *slog.Logger
	decoders  map[int]*ccx.CEA608Decoder
	onCaption func(*ccx.CaptionFrame)
	captions  atomic.Int64
}

// NewCaptionSink creates a CaptionSink. If log is nil, slog.Default() is
// used.
func NewCaptionSink(onCaption func(*ccx.CaptionFrame), log *slog.Logger) *CaptionSink {
	if log == nil {
		log = slog.Default()
	}
	return &CaptionSink{
		log: log.With("component", "captions"),
		decoders: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		onCaption: onCaption,
	}
}

// Captions returns how many caption frames have been emitted.
func (c *CaptionSink) Captions() int64 {
	return c.captions.Load()
}

// WritePacket implements Sink.
func (c *CaptionSink) WritePacket(pkt *media.Packet) error {
	pts := pkt.PTS * 1000000 / 90000

	for _, nalu := range h264.ParseAnnexB(pkt.Data) {
		if nalu.Type != h264.NALTypeSEI {
			continue
		}
		cd := ccx.ExtractCaptions(nalu.Data)
		if cd == nil {
			continue
		}
		for _, pair := range cd.CC608Pairs {
			dec := c.decoders[pair.Channel]
			if dec == nil {
				continue
			}
			text := dec.Decode(pair.Data[0], pair.Data[1])
			if text == "" {
				continue
			}
			c.captions.Add(1)
			if c.onCaption != nil {
				c.onCaption(&ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel})
			}
		}
	}
	return nil
}

// EndOfStream implements Sink.
func (c *CaptionSink) EndOfStream(streamIndex int) {
	c.log.Debug("captions done", "stream", streamIndex, "captions", c.captions.Load())
}
