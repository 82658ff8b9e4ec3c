// Package demux is the producer side of packetq. It reads an MPEG-TS byte
// stream, discovers elementary streams from the PMT, and puts every PES
// payload on the packet queue of its stream.
//
// The central type is [Demuxer]. Its Run loop also services seek requests
// (flushing every queue before reading resumes) and applies producer-side
// backpressure based on the queues' packet and byte counters.
package demux
