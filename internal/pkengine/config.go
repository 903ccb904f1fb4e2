package pkengine

import "time"

// Config holds the engine's tuning knobs. Values mirror the constants
// confirmed by the upstream reference implementation: a 100ms per-frame
// ACK timeout, a 300ms Device keep-alive interval, and a 500ms
// inter-command idle bound.
type Config struct {
	// AckTimeout is how long a sender waits for ACKNO before retransmitting.
	AckTimeout time.Duration
	// AwaitInterval governs how often the Device emits AWAIT while a
	// method invocation is still pending.
	AwaitInterval time.Duration
	// InterCommandTimeout aborts a chain that has made no progress for
	// this long.
	InterCommandTimeout time.Duration
	// MaxAttempts bounds retransmissions of a single outstanding frame
	// before the chain is aborted with retry_exhausted.
	MaxAttempts int
	// MaxInboundBytes and MaxOutboundBytes cap the chain buffers so a
	// misbehaving peer cannot grow them unbounded. A received SDATA
	// stream or a Device response over its cap aborts the chain with
	// "payload too large"; StartHostChain rejects a request payload over
	// MaxOutboundBytes with an error before any chain starts.
	MaxInboundBytes  int
	MaxOutboundBytes int
}

// DefaultConfig returns the recommended defaults from §4.3/§5 of the
// wire contract.
func DefaultConfig() Config {
	return Config{
		AckTimeout:          100 * time.Millisecond,
		AwaitInterval:       300 * time.Millisecond,
		InterCommandTimeout: 500 * time.Millisecond,
		MaxAttempts:         5,
		MaxInboundBytes:     64 * 1024,
		MaxOutboundBytes:    64 * 1024,
	}
}
