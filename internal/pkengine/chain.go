package pkengine

import (
	"time"

	"github.com/danmuck/pkcmd/internal/pkframe"
	"github.com/danmuck/pkcmd/internal/pkhandler"
)

// Role identifies which side of a chain this engine instance plays.
type Role int

const (
	RoleHost Role = iota
	RoleDevice
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "device"
}

// Phase is the chain's position in the four-phase transaction (§4.4).
// There is no separate "Terminal" tag: the ACK of the final ENDTR
// returns the chain directly to PhaseIdle, observed by the caller only
// as a ChainCompleted/ChainFailed event.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitiation
	PhaseRootOp
	PhaseInbound
	PhaseOutbound
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInitiation:
		return "initiation"
	case PhaseRootOp:
		return "root-op"
	case PhaseInbound:
		return "inbound"
	case PhaseOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// SubState refines PhaseOutbound, the only phase with more than one
// shape of legal traffic (§4.4's table). Idle/Initiation/RootOp/Inbound
// each have exactly one shape and need no sub-state of their own.
type SubState int

const (
	SubNone SubState = iota
	// SubPreQuery: Device has resolved (or started resolving) the root
	// operation and is waiting for the Host's QUERY.
	SubPreQuery
	// SubDeviceWorking: QUERY has been ACKed and the Device's handler
	// has not yet produced a result; AWAIT keep-alive is in play.
	SubDeviceWorking
	// SubStreaming: RTURN has been exchanged and SDATA chunks (or a
	// direct ENDTR, for RTURN EMPTY) are flowing.
	SubStreaming
)

func (s SubState) String() string {
	switch s {
	case SubPreQuery:
		return "pre-query"
	case SubDeviceWorking:
		return "device-working"
	case SubStreaming:
		return "streaming"
	default:
		return "none"
	}
}

// ChainContext is the per-active-chain state owned exclusively by the
// Session/Engine. It never outlives the chain it belongs to.
type ChainContext struct {
	RootOp     pkframe.Op
	RootObject string
	HasObject  bool

	Phase Phase
	Sub   SubState

	// StreamIn accumulates the bytes this side is receiving via SDATA:
	// the request payload for a Device in PhaseInbound, or the response
	// payload for a Host in PhaseOutbound.
	StreamIn []byte

	// StreamOut and StreamOutCursor hold the bytes this side is sending
	// via SDATA and how much has gone out so far: the request payload
	// for a Host in PhaseInbound, or the response payload for a Device
	// in PhaseOutbound. StreamOutEmpty selects EMPTY instead of chunks.
	StreamOut       []byte
	StreamOutCursor int
	StreamOutEmpty  bool
	// StreamOutEmptySent marks that the one-shot EMPTY marker frame (the
	// Host's PhaseInbound "no payload" signal) has already been sent, so
	// sendNextOutboundStep proceeds straight to ENDTR on the next call.
	StreamOutEmptySent bool

	// Job is the Device-side in-flight method invocation for INVOK; nil
	// for SENDV/REQUV/PKVER, which resolve synchronously.
	Job         pkhandler.Job
	JobResult   pkhandler.JobResult
	JobResolved bool

	StartedAt      time.Time
	LastProgressAt time.Time
	AwaitDeadline  time.Time

	CancelRequested bool
}

func (c *ChainContext) touch(now time.Time) {
	c.LastProgressAt = now
}

// nextChunk returns the next slice of StreamOut (at most size bytes)
// still to be sent, and whether any bytes remain beyond it.
func (c *ChainContext) nextChunk(size int) (chunk []byte, more bool) {
	remaining := c.StreamOut[c.StreamOutCursor:]
	if len(remaining) <= size {
		return remaining, false
	}
	return remaining[:size], true
}

// advanceStreamOut records that a chunk of n bytes was sent successfully.
func (c *ChainContext) advanceStreamOut(n int) {
	c.StreamOutCursor += n
}

// streamOutDone reports whether every StreamOut byte has been sent.
func (c *ChainContext) streamOutDone() bool {
	return c.StreamOutCursor >= len(c.StreamOut)
}

func (c *ChainContext) appendStreamIn(b []byte) {
	c.StreamIn = append(c.StreamIn, b...)
}
