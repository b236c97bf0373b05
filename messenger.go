package register

import "context"

// Messenger is the framing layer the core depends on but does not
// implement: something that already turns a full-duplex stream socket
// (serial port, TCP) into discrete (tag, payload) messages. The
// streamsocket package provides a TCP reference implementation; a
// serial port implementation is a straightforward adaptation of the
// same shape.
type Messenger interface {
	// Start opens the underlying socket. It may block until the
	// connection is established, and fails if startup fails.
	Start(ctx context.Context) error
	// Stop closes the underlying socket, unblocking any pending Send
	// or blocked Listen callback. If block is false, Stop requests the
	// shutdown without waiting for it to complete.
	Stop(block bool) error
	// Running reports whether the messenger is currently usable.
	Running() bool
	// Send transmits payload to destId (the 4-bit registryId; 0 on the
	// receiving side means "accept all") tagged with tag.
	Send(ctx context.Context, destId int, tag int, payload []byte) error
	// Listen registers callback to run once per received message until
	// ctx is canceled or callback returns true ("quit"). callback must
	// not block — it runs on the messenger's receive task. Listen
	// returns a function that detaches the callback early.
	Listen(ctx context.Context, callback func(tag int, payload []byte, err error) (quit bool)) (detach func())
}
