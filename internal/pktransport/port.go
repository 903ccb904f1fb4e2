// Package pktransport adapts the engine's abstract, message-oriented
// byte channel (§6 of the wire contract: "preserves packet boundaries,
// best-effort, in-order not required") onto concrete I/O: an
// io.ReadWriteCloser-backed framed adapter for local pipes/UART-like
// channels, and an SSH-tunneled bridge for exercising a physically
// separate device process over a network link.
package pktransport

import "errors"

// Port is the abstract bidirectional byte-frame channel the engine is
// driven against. Send and Receive each carry exactly one already
// pkframe-encoded wire frame; Port implementations are responsible for
// preserving that boundary even when the underlying medium is a plain
// byte stream.
type Port interface {
	// Send writes one frame. It blocks until the frame (and any framing
	// envelope) has been handed to the underlying medium.
	Send(frame []byte) error

	// Receive blocks until one frame has arrived, the port is closed, or
	// Close unblocks it concurrently (returning ErrClosed).
	Receive() ([]byte, error)

	Close() error
}

// ErrClosed is returned by Receive/Send once the port has been closed.
var ErrClosed = errors.New("pktransport: port closed")
