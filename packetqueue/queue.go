package packetqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/packetq/media"
)

type node struct {
	pkt  *media.Packet
	next *node
}

var nodePool = sync.Pool{
	New: func() any { return new(node) },
}

func releaseNode(n *node) {
	n.pkt = nil
	n.next = nil
	nodePool.Put(n)
}

// Option configures a Queue.
type Option func(*Queue)

// WithNodeLimit caps the number of nodes the queue may hold at once. Put
// fails with ErrResourceExhausted once the cap is reached. Zero means no
// limit.
func WithNodeLimit(n int) Option {
	return func(q *Queue) {
		q.nodeLimit = n
	}
}

// Stats is a point-in-time view of a queue's counters.
type Stats struct {
	Packets  int           `json:"packets"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Aborted  bool          `json:"aborted"`
}

// Queue is a blocking FIFO of media packets. All state is guarded by mu;
// cond is signalled when a packet is appended and broadcast on abort.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	first, last *node
	count       int
	size        int64
	duration    time.Duration

	abortRequested bool
	destroyed      bool
	nodeLimit      int
}

// New returns an empty, non-aborted queue.
func New(opts ...Option) *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Put appends pkt to the tail of the queue and wakes one waiting consumer.
// The queue takes ownership of pkt whether or not Put succeeds; on error
// the payload has already been released.
func (q *Queue) Put(pkt *media.Packet) error {
	if pkt == nil {
		return ErrInvalidPacket
	}
	if err := pkt.MakeRefCounted(); err != nil {
		pkt.Unref()
		return fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}

	n := nodePool.Get().(*node)
	n.pkt = pkt

	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		releaseNode(n)
		pkt.Unref()
		return ErrDestroyed
	}
	if q.nodeLimit > 0 && q.count >= q.nodeLimit {
		q.mu.Unlock()
		releaseNode(n)
		pkt.Unref()
		return ErrResourceExhausted
	}

	if q.last == nil {
		q.first = n
	} else {
		q.last.next = n
	}
	q.last = n
	q.count++
	q.size += int64(pkt.Size)
	q.duration += pkt.Duration

	q.cond.Signal()
	q.mu.Unlock()
	return nil
}

// PutNull appends the end-of-stream sentinel for streamIndex.
func (q *Queue) PutNull(streamIndex int) error {
	return q.Put(media.NullPacket(streamIndex))
}

// Get removes and returns the packet at the head of the queue.
//
// When the queue is empty and block is false, Get returns (nil, false, nil),
// aborted or not. When block is true it waits until a packet is put or the
// queue is aborted. An aborted queue keeps returning buffered packets; once
// it is empty a blocking Get returns ErrAborted.
func (q *Queue) Get(block bool) (*media.Packet, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.destroyed {
			return nil, false, ErrDestroyed
		}

		if n := q.first; n != nil {
			q.first = n.next
			if q.first == nil {
				q.last = nil
			}
			pkt := n.pkt
			q.count--
			q.size -= int64(pkt.Size)
			q.duration -= pkt.Duration
			releaseNode(n)
			return pkt, true, nil
		}

		if !block {
			return nil, false, nil
		}
		if q.abortRequested {
			return nil, false, ErrAborted
		}

		// Wakeups are not one-to-one with puts: another consumer may have
		// taken the packet first, so the head is re-examined every time.
		q.cond.Wait()
	}
}

// Flush drops every buffered packet, releasing its payload, and resets the
// counters. The abort flag is left untouched.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
}

func (q *Queue) flushLocked() {
	for n := q.first; n != nil; {
		next := n.next
		n.pkt.Unref()
		releaseNode(n)
		n = next
	}
	q.first = nil
	q.last = nil
	q.count = 0
	q.size = 0
	q.duration = 0
}

// Destroy flushes the queue and retires it. It must only be called once
// every producer and consumer of the queue has stopped.
func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.flushLocked()
	q.destroyed = true
	q.cond.Broadcast()
}

// Abort permanently marks the queue as aborted and wakes every waiting
// consumer. Calling it again only repeats the wakeup.
func (q *Queue) Abort() {
	q.mu.Lock()
	q.abortRequested = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Aborted reports whether Abort has been called.
func (q *Queue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.abortRequested
}

// Len returns the number of buffered packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Size returns the total payload size of the buffered packets in bytes.
func (q *Queue) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Duration returns the summed duration of the buffered packets.
func (q *Queue) Duration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// Stats returns all counters under a single lock acquisition.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Packets:  q.count,
		Bytes:    q.size,
		Duration: q.duration,
		Aborted:  q.abortRequested,
	}
}
