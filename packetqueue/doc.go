// Package packetqueue implements the hand-off point between a demuxer and
// its decoding stages: a mutex and condition variable protected FIFO of
// media packets with byte and duration accounting and a one-way abort flag.
//
// A single producer appends packets with Put (or PutNull to mark the end of
// one elementary stream) while any number of consumers remove them with
// Get. A blocking Get parks until a packet arrives or the queue is aborted.
// Flush drops everything buffered, which is what a seek needs; Abort wakes
// every parked consumer for shutdown. Packets buffered at the time of an
// abort are still handed out, so consumers drain before a blocking Get
// returns ErrAborted. A non-blocking Get on an empty queue reports empty
// either way; pollers check Aborted.
//
// Put only copies a payload that is not yet reference counted. It takes
// ownership of the packet and Get hands it to the caller, who must Unref it
// when done.
package packetqueue
