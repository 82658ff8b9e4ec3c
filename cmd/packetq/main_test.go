package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/zsiec/packetq/internal/decode"
	"github.com/zsiec/packetq/internal/ingest"
	"github.com/zsiec/packetq/internal/pipeline"
)

func sampleSnapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		ID:  "run-1",
		Key: "capture",
		Streams: []pipeline.StreamSnapshot{
			{Index: 0, PID: 256, Kind: "video", Codec: "h264", Delivered: decode.StreamStats{Packets: 3, Bytes: 900}},
			{Index: 1, PID: 257, Kind: "audio", Codec: "aac", Delivered: decode.StreamStats{Packets: 2, Bytes: 200}},
		},
	}
}

func TestPrintStatsText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printStats(&buf, sampleSnapshot(), ingest.Stats{Protocol: ingest.ProtocolFile, BytesReceived: 1316}, false)

	out := buf.String()
	for _, want := range []string{"run-1", "capture", "1316 bytes", "h264", "aac", "900"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatsJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printStats(&buf, sampleSnapshot(), ingest.Stats{Protocol: ingest.ProtocolSRT}, true)

	var got report
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got.Pipeline.Streams) != 2 || got.Pipeline.Streams[1].Delivered.Bytes != 200 {
		t.Errorf("streams: %+v", got.Pipeline.Streams)
	}
	if got.Ingest.Protocol != ingest.ProtocolSRT {
		t.Errorf("protocol: got %q, want %q", got.Ingest.Protocol, ingest.ProtocolSRT)
	}
}
