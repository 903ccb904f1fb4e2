package pkengine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pkcmd/internal/pkclock"
	"github.com/danmuck/pkcmd/internal/pkframe"
	"github.com/danmuck/pkcmd/internal/pkhandler"
)

// ProtocolMajor is the fixed protocol major version advertised by
// PKVER; only MINOR.PATCH varies per embedder (§4.5, SUPPLEMENTED
// FEATURES #1).
const ProtocolMajor = 1

// Collaborators bundles the three capability interfaces the engine
// consumes but never owns (§4.5, §9 "dynamic dispatch"). Version may be
// nil, in which case PKVER reports MINOR.PATCH = 0.0.
type Collaborators struct {
	Vars    pkhandler.VariableAccessor
	Methods pkhandler.MethodInvoker
	Version pkhandler.VersionReporter
}

// Engine is the single symmetric PK Command protocol state machine
// instantiated per Role. It performs no I/O and owns no goroutine; see
// the package doc for the OnFrame/Poll calling convention.
type Engine struct {
	role Role
	mtu  int
	cfg  Config

	clock  pkclock.Clock
	collab Collaborators
	log    zerolog.Logger

	nextSendID pkframe.MsgID

	haveLastRecv bool
	lastRecvID   pkframe.MsgID
	lastRecvOp   pkframe.Op
	lastAckSent  pkframe.Frame

	chain *ChainContext
	out   OutstandingSend

	inError bool

	toSend []pkframe.Frame
	events []Event
}

// NewEngine constructs an Engine for role, bounding frames to mtu bytes
// and consuming collab for variable/method/version resolution. cfg is
// typically pkengine.DefaultConfig(); clock is typically pkclock.Real{}
// outside of tests.
func NewEngine(role Role, mtu int, collab Collaborators, cfg Config, clock pkclock.Clock, log zerolog.Logger) *Engine {
	return &Engine{
		role:   role,
		mtu:    mtu,
		cfg:    cfg,
		clock:  clock,
		collab: collab,
		log:    log.With().Str("component", "pkengine").Str("role", role.String()).Logger(),
	}
}

// Role reports which side of the protocol this engine plays.
func (e *Engine) Role() Role { return e.role }

// Busy reports whether a chain is currently active.
func (e *Engine) Busy() bool { return e.chain != nil }

// Snapshot is a read-only copy of the active chain's state, for
// external observers (pkdiag) that must never hold a reference into
// the engine's live ChainContext.
type Snapshot struct {
	Active     bool
	RootOp     pkframe.Op
	RootObject string
	Phase      Phase
	Sub        SubState
	StartedAt  time.Time
	Retries    int
}

// Snapshot reports the current chain's state, or a zero Snapshot
// (Active: false) when idle. Retries counts retransmissions of the
// outstanding frame, so it is 0 for a frame sent only once.
func (e *Engine) Snapshot() Snapshot {
	if e.chain == nil {
		return Snapshot{}
	}
	retries := 0
	if e.out.Attempts > 1 {
		retries = e.out.Attempts - 1
	}
	return Snapshot{
		Active:     true,
		RootOp:     e.chain.RootOp,
		RootObject: e.chain.RootObject,
		Phase:      e.chain.Phase,
		Sub:        e.chain.Sub,
		StartedAt:  e.chain.StartedAt,
		Retries:    retries,
	}
}

func (e *Engine) chunkSize() int {
	n := e.mtu - 14
	if n < 1 {
		n = 1
	}
	return n
}

func (e *Engine) queue(f pkframe.Frame) {
	e.toSend = append(e.toSend, f)
}

func (e *Engine) emit(ev Event) {
	e.events = append(e.events, ev)
}

// sendNew transmits a brand-new non-ACK frame, arming the stop-and-wait
// outstanding-send slot. Callers must not already have one armed.
func (e *Engine) sendNew(f pkframe.Frame, now time.Time) {
	e.out.armFor(f, now, e.cfg.AckTimeout)
	e.queue(f)
}

// sendAck transmits (and remembers) the ACKNO for a freshly-received
// frame. ACKs are never themselves outstanding.
func (e *Engine) sendAck(target pkframe.Frame) {
	ack := pkframe.NewAck(target)
	e.lastAckSent = ack
	e.queue(ack)
}

func (e *Engine) resetToIdle() {
	e.chain = nil
	e.out.clear()
	e.inError = false
}
