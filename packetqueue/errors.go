package packetqueue

import "errors"

var (
	// ErrResourceExhausted is returned by Put when no queue node can be
	// allocated because the node limit has been reached.
	ErrResourceExhausted = errors.New("packetqueue: resource exhausted")

	// ErrInvalidPacket is returned by Put for a nil packet or one whose
	// payload cannot be made reference counted.
	ErrInvalidPacket = errors.New("packetqueue: invalid packet")

	// ErrAborted is returned by a blocking Get once the queue has been aborted and
	// holds no more packets.
	ErrAborted = errors.New("packetqueue: aborted")

	// ErrDestroyed is returned by Put and Get on a destroyed queue.
	ErrDestroyed = errors.New("packetqueue: destroyed")
)
