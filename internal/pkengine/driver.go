package pkengine

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/pkcmd/internal/pkframe"
	"github.com/danmuck/pkcmd/internal/pkhandler"
)

// Event is the closed set of values the driver surfaces to its caller
// from a Step (§4.6).
type Event interface{ isEvent() }

// ChainCompleted reports a chain that reached the ACK of its final
// ENDTR. OutboundBytes is the REQUV/INVOK/PKVER result: as received by
// the Host, or as streamed back by the Device (empty for RTURN EMPTY).
type ChainCompleted struct {
	RootOp        pkframe.Op
	RootObject    string
	OutboundBytes []byte
}

// ChainFailed reports a chain aborted via the ERROR frame (§7).
type ChainFailed struct {
	Reason      Reason
	Description string
}

// IncomingRequest is a Device-side observability event fired as soon as
// a root operation's request payload is fully received, immediately
// before the engine resolves it against the injected Collaborators.
// It exists for inversion-of-control observers (logging, metrics,
// admin surfaces); the engine always resolves the request itself via
// Collaborators regardless of whether anything reads this event.
type IncomingRequest struct {
	RootOp       pkframe.Op
	RootObject   string
	InboundBytes []byte
}

func (ChainCompleted) isEvent()   {}
func (ChainFailed) isEvent()      {}
func (IncomingRequest) isEvent()  {}

// Step is the result of one Poll call: frames to write to the
// transport, user-observable events, and the next deadline by which
// Poll must be called again (absent if the engine is fully idle).
type Step struct {
	ToSend    []pkframe.Frame
	Events    []Event
	WakeAt    time.Time
	HasWakeAt bool
}

// StartHostChain begins a new chain as the initiating Host. op must be
// one of the four root operations; object is the variable/method name
// (ignored for PKVER); payload is the bytes the Host streams to the
// Device during PhaseInbound (request value for SENDV, arguments for
// INVOK, and empty for REQUV/PKVER).
func (e *Engine) StartHostChain(op pkframe.Op, object string, payload []byte) error {
	if e.role != RoleHost {
		return ErrWrongRole
	}
	if e.chain != nil {
		return ErrBusy
	}
	if !op.IsRoot() {
		return fmt.Errorf("pkengine: %q is not a root operation", op)
	}
	hasObject := op != pkframe.OpGetVersion
	if hasObject && len(object) != pkframe.ObjectLen {
		return fmt.Errorf("pkengine: object must be %d chars for %s", pkframe.ObjectLen, op)
	}
	if len(payload) > e.cfg.MaxOutboundBytes {
		return fmt.Errorf("pkengine: payload exceeds %d bytes", e.cfg.MaxOutboundBytes)
	}
	if !hasObject {
		object = ""
	}

	now := e.clock.Now()
	e.chain = &ChainContext{
		RootOp:         op,
		RootObject:     object,
		HasObject:      hasObject,
		Phase:          PhaseInitiation,
		StreamOut:      payload,
		StreamOutEmpty: len(payload) == 0,
		StartedAt:      now,
		LastProgressAt: now,
	}
	e.sendNew(pkframe.NewStart(e.nextSendID), now)
	return nil
}

// Cancel aborts the active chain (if any) by raising an outgoing ERROR,
// per §5's cancellation contract. The session's MsgId counter is
// preserved.
func (e *Engine) Cancel(now time.Time) {
	if e.chain == nil {
		return
	}
	e.chain.CancelRequested = true
	e.raiseError(ReasonCancelled, "cancelled", now)
}

// OnFrame feeds one received, transport-delivered frame to the engine.
// Call Poll immediately afterward to collect any frames it produced.
func (e *Engine) OnFrame(data []byte, now time.Time) {
	f, err := pkframe.Decode(data)
	if err != nil {
		e.raiseError(ReasonParseError, err.Error(), now)
		return
	}
	e.handleFrame(f, now)
}

// Poll advances time: it flushes due retransmissions and Device
// keep-alives, drains any frames/events queued since the last call, and
// reports the next deadline by which it must be called again.
func (e *Engine) Poll(now time.Time) Step {
	if e.chain != nil && !e.inError && now.Sub(e.chain.LastProgressAt) > e.cfg.InterCommandTimeout {
		e.raiseError(ReasonInterCommandTimeout, "inter-command timeout", now)
	}

	if e.out.Armed && !now.Before(e.out.Deadline) {
		if e.out.Attempts >= e.cfg.MaxAttempts {
			if e.out.Frame.Op == pkframe.OpError {
				e.forceAbort()
			} else {
				e.out.clear()
				e.raiseError(ReasonRetryExhausted, "retry exhausted", now)
			}
		} else {
			e.queue(e.out.retransmit(now, e.cfg.AckTimeout))
		}
	}

	if e.chain != nil && e.role == RoleDevice && e.chain.Job != nil && !e.chain.JobResolved {
		e.pollDeviceJob(now)
	}
	if e.chain != nil && e.role == RoleDevice && e.chain.Sub == SubDeviceWorking && !e.out.Armed {
		if e.chain.JobResolved {
			e.chain.Sub = SubStreaming
			e.sendDeviceReturn(now)
		} else if !now.Before(e.chain.AwaitDeadline) {
			e.sendNew(pkframe.Frame{ID: e.nextSendID, Op: pkframe.OpAwait}, now)
		}
	}

	step := Step{ToSend: e.toSend, Events: e.events}
	e.toSend = nil
	e.events = nil
	if wake, ok := e.nextWake(); ok {
		step.WakeAt = wake
		step.HasWakeAt = true
	}
	return step
}

func (e *Engine) nextWake() (time.Time, bool) {
	var candidates []time.Time
	if e.out.Armed {
		candidates = append(candidates, e.out.Deadline)
	}
	if e.chain != nil {
		candidates = append(candidates, e.chain.LastProgressAt.Add(e.cfg.InterCommandTimeout))
		if e.role == RoleDevice && e.chain.Sub == SubDeviceWorking && !e.out.Armed {
			candidates = append(candidates, e.chain.AwaitDeadline)
		}
	}
	if len(candidates) == 0 {
		return time.Time{}, false
	}
	earliest := candidates[0]
	for _, c := range candidates[1:] {
		if c.Before(earliest) {
			earliest = c
		}
	}
	return earliest, true
}

// handleFrame routes one decoded, not-yet-validated inbound frame.
func (e *Engine) handleFrame(f pkframe.Frame, now time.Time) {
	if f.Op == pkframe.OpAcknowledge {
		e.handleAck(f, now)
		return
	}
	if f.Op == pkframe.OpError {
		e.handleIncomingError(f, now)
		return
	}

	if e.haveLastRecv && !f.Sentinel && f.ID == e.lastRecvID && f.Op == e.lastRecvOp {
		// Retransmission: re-emit the previous ACK without re-advancing
		// the chain (§4.3 duplicate handling).
		e.queue(e.lastAckSent)
		return
	}
	if !f.Sentinel && f.ID != e.nextSendID {
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame id", now)
		return
	}

	switch {
	case f.Op == pkframe.OpStart:
		e.handleIncomingStart(f, now)
	case f.Op.IsRoot():
		e.handleIncomingRootOp(f, now)
	case f.Op == pkframe.OpData:
		e.handleIncomingSData(f, now)
	case f.Op == pkframe.OpEmpty:
		e.handleIncomingEmpty(f, now)
	case f.Op == pkframe.OpEndTransaction:
		e.handleIncomingEndtr(f, now)
	case f.Op == pkframe.OpQuery:
		e.handleIncomingQuery(f, now)
	case f.Op == pkframe.OpReturn:
		e.handleIncomingReturn(f, now)
	case f.Op == pkframe.OpAwait:
		e.handleIncomingAwait(f, now)
	default:
		e.raiseError(ReasonUnexpectedFrame, "unrecognized frame", now)
	}
}

// acceptAndAck ACKs a freshly-validated new (non-duplicate) frame,
// records it for future duplicate detection, and advances the shared
// send-id counter (sentinel frames never advance it).
func (e *Engine) acceptAndAck(f pkframe.Frame, now time.Time) {
	e.sendAck(f)
	if !f.Sentinel {
		e.lastRecvID = f.ID
		e.lastRecvOp = f.Op
		e.haveLastRecv = true
		e.nextSendID = pkframe.IncrementMsgID(e.nextSendID)
	}
	if e.chain != nil {
		e.chain.touch(now)
	}
}

func (e *Engine) handleIncomingStart(f pkframe.Frame, now time.Time) {
	if e.role != RoleDevice || e.chain != nil {
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame", now)
		return
	}
	e.chain = &ChainContext{Phase: PhaseInitiation, StartedAt: now, LastProgressAt: now}
	e.acceptAndAck(f, now)
}

func (e *Engine) handleIncomingRootOp(f pkframe.Frame, now time.Time) {
	if e.role != RoleDevice || e.chain == nil || e.chain.Phase != PhaseInitiation {
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame", now)
		return
	}
	wantsObject := f.Op != pkframe.OpGetVersion
	if wantsObject != f.HasObject {
		e.raiseError(ReasonObjectMismatch, "object mismatch", now)
		return
	}
	e.chain.RootOp = f.Op
	e.chain.RootObject = f.Object
	e.chain.HasObject = wantsObject
	e.chain.Phase = PhaseInbound
	e.acceptAndAck(f, now)
}

func (e *Engine) handleIncomingSData(f pkframe.Frame, now time.Time) {
	deviceSide := e.role == RoleDevice && e.chain != nil && e.chain.Phase == PhaseInbound
	hostSide := e.role == RoleHost && e.chain != nil && e.chain.Phase == PhaseOutbound && e.chain.Sub == SubStreaming
	if !deviceSide && !hostSide {
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame", now)
		return
	}
	if !f.HasData || len(f.Data) == 0 {
		e.raiseError(ReasonParseError, "empty SDATA payload", now)
		return
	}
	if !f.HasObject || f.Object != string(e.chain.RootOp) {
		e.raiseError(ReasonObjectMismatch, "object mismatch", now)
		return
	}
	if len(e.chain.StreamIn)+len(f.Data) > e.cfg.MaxInboundBytes {
		e.raiseError(ReasonPayloadTooLarge, "payload too large", now)
		return
	}
	e.chain.appendStreamIn(f.Data)
	e.acceptAndAck(f, now)
}

func (e *Engine) handleIncomingEmpty(f pkframe.Frame, now time.Time) {
	if e.role != RoleDevice || e.chain == nil || e.chain.Phase != PhaseInbound {
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame", now)
		return
	}
	e.acceptAndAck(f, now)
}

func (e *Engine) handleIncomingEndtr(f pkframe.Frame, now time.Time) {
	switch {
	case e.role == RoleDevice && e.chain != nil && e.chain.Phase == PhaseInbound:
		e.chain.Phase = PhaseOutbound
		e.chain.Sub = SubPreQuery
		e.acceptAndAck(f, now)
		e.beginDeviceResolve(now)

	case e.role == RoleHost && e.chain != nil && e.chain.Phase == PhaseOutbound && e.chain.Sub == SubStreaming:
		e.acceptAndAck(f, now)
		rootOp, rootObject, bytes := e.chain.RootOp, e.chain.RootObject, e.chain.StreamIn
		e.resetToIdle()
		e.emit(ChainCompleted{RootOp: rootOp, RootObject: rootObject, OutboundBytes: bytes})

	default:
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame", now)
	}
}

func (e *Engine) handleIncomingQuery(f pkframe.Frame, now time.Time) {
	if e.role != RoleDevice || e.chain == nil || e.chain.Phase != PhaseOutbound || e.chain.Sub != SubPreQuery {
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame", now)
		return
	}
	e.acceptAndAck(f, now)
	if e.chain.JobResolved {
		e.chain.Sub = SubStreaming
		e.sendDeviceReturn(now)
		return
	}
	e.chain.Sub = SubDeviceWorking
	e.chain.AwaitDeadline = now.Add(e.cfg.AwaitInterval)
}

func (e *Engine) handleIncomingAwait(f pkframe.Frame, now time.Time) {
	if e.role != RoleHost || e.chain == nil || e.chain.Phase != PhaseOutbound || e.chain.Sub != SubDeviceWorking {
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame", now)
		return
	}
	e.acceptAndAck(f, now)
}

func (e *Engine) handleIncomingReturn(f pkframe.Frame, now time.Time) {
	if e.role != RoleHost || e.chain == nil || e.chain.Phase != PhaseOutbound || e.chain.Sub != SubDeviceWorking {
		e.raiseError(ReasonUnexpectedFrame, "unexpected frame", now)
		return
	}
	if !f.HasObject || (f.Object != string(e.chain.RootOp) && f.Object != pkframe.ObjectEmpty) {
		e.raiseError(ReasonObjectMismatch, "object mismatch", now)
		return
	}
	e.chain.Sub = SubStreaming
	e.acceptAndAck(f, now)
}

func (e *Engine) handleAck(f pkframe.Frame, now time.Time) {
	if !e.out.Armed {
		return
	}
	if !e.out.matchesAck(f) {
		e.raiseError(ReasonAckMismatch, "ack mismatch", now)
		return
	}
	acked := e.out.Frame
	e.out.clear()
	if e.chain != nil {
		e.chain.touch(now)
	}
	if !acked.Sentinel {
		e.nextSendID = pkframe.IncrementMsgID(e.nextSendID)
	}
	if acked.Op == pkframe.OpError {
		e.resetToIdle()
		return
	}
	e.advanceAfterOwnSend(acked, now)
}

func (e *Engine) advanceAfterOwnSend(acked pkframe.Frame, now time.Time) {
	c := e.chain
	if c == nil {
		return
	}
	switch acked.Op {
	case pkframe.OpStart:
		c.Phase = PhaseRootOp
		e.sendNew(buildRootFrame(c, e.nextSendID), now)

	case pkframe.OpSendVariable, pkframe.OpRequireVariable, pkframe.OpInvoke, pkframe.OpGetVersion:
		c.Phase = PhaseInbound
		e.sendNextOutboundStep(now)

	case pkframe.OpEmpty:
		e.sendNextOutboundStep(now)

	case pkframe.OpData:
		c.advanceStreamOut(len(acked.Data))
		if c.Phase == PhaseInbound {
			e.sendNextOutboundStep(now)
		} else {
			e.sendDeviceStreamStep(now)
		}

	case pkframe.OpEndTransaction:
		if c.Phase == PhaseInbound {
			c.Phase = PhaseOutbound
			c.Sub = SubNone
			e.sendNew(pkframe.Frame{ID: e.nextSendID, Op: pkframe.OpQuery}, now)
		} else {
			rootOp, rootObject, bytes := c.RootOp, c.RootObject, c.StreamOut
			e.resetToIdle()
			e.emit(ChainCompleted{RootOp: rootOp, RootObject: rootObject, OutboundBytes: bytes})
		}

	case pkframe.OpQuery:
		c.Sub = SubDeviceWorking

	case pkframe.OpAwait:
		e.onAwaitAcked(now)

	case pkframe.OpReturn:
		if c.StreamOutEmpty {
			e.sendNew(pkframe.Frame{ID: e.nextSendID, Op: pkframe.OpEndTransaction}, now)
		} else {
			e.sendDeviceStreamStep(now)
		}
	}
}

// sendNextOutboundStep drives the Host's request-payload send during
// PhaseInbound: EMPTY (once, if there is no payload), SDATA chunks in
// order, then ENDTR.
func (e *Engine) sendNextOutboundStep(now time.Time) {
	c := e.chain
	if len(c.StreamOut) == 0 {
		if !c.StreamOutEmptySent {
			c.StreamOutEmptySent = true
			e.sendNew(pkframe.Frame{ID: e.nextSendID, Op: pkframe.OpEmpty}, now)
			return
		}
		e.sendNew(pkframe.Frame{ID: e.nextSendID, Op: pkframe.OpEndTransaction}, now)
		return
	}
	if c.streamOutDone() {
		e.sendNew(pkframe.Frame{ID: e.nextSendID, Op: pkframe.OpEndTransaction}, now)
		return
	}
	chunk, _ := c.nextChunk(e.chunkSize())
	e.sendNew(pkframe.Frame{
		ID: e.nextSendID, Op: pkframe.OpData,
		Object: string(c.RootOp), HasObject: true,
		Data: chunk, HasData: true,
	}, now)
}

// sendDeviceStreamStep drives the Device's response-payload send during
// PhaseOutbound/SubStreaming: SDATA chunks in order, then ENDTR.
func (e *Engine) sendDeviceStreamStep(now time.Time) {
	c := e.chain
	if c.streamOutDone() {
		e.sendNew(pkframe.Frame{ID: e.nextSendID, Op: pkframe.OpEndTransaction}, now)
		return
	}
	chunk, _ := c.nextChunk(e.chunkSize())
	e.sendNew(pkframe.Frame{
		ID: e.nextSendID, Op: pkframe.OpData,
		Object: string(c.RootOp), HasObject: true,
		Data: chunk, HasData: true,
	}, now)
}

func (e *Engine) sendDeviceReturn(now time.Time) {
	c := e.chain
	if len(c.StreamOut) > e.cfg.MaxOutboundBytes {
		e.raiseError(ReasonPayloadTooLarge, "payload too large", now)
		return
	}
	object := string(c.RootOp)
	if c.StreamOutEmpty {
		object = pkframe.ObjectEmpty
	}
	e.sendNew(pkframe.Frame{ID: e.nextSendID, Op: pkframe.OpReturn, Object: object, HasObject: true}, now)
}

func (e *Engine) onAwaitAcked(now time.Time) {
	c := e.chain
	if c.Job != nil && !c.JobResolved {
		e.pollDeviceJob(now)
	}
	if e.inError {
		return
	}
	if c.JobResolved {
		c.Sub = SubStreaming
		e.sendDeviceReturn(now)
		return
	}
	c.AwaitDeadline = now.Add(e.cfg.AwaitInterval)
}

// beginDeviceResolve is called once, right after the Device ACKs the
// final ENDTR of the inbound stream: it hands the request to the
// collaborator appropriate to RootOp (§4.5).
func (e *Engine) beginDeviceResolve(now time.Time) {
	c := e.chain
	e.emit(IncomingRequest{
		RootOp:       c.RootOp,
		RootObject:   c.RootObject,
		InboundBytes: append([]byte(nil), c.StreamIn...),
	})

	switch c.RootOp {
	case pkframe.OpSendVariable:
		if err := e.collab.Vars.Set(c.RootObject, c.StreamIn); err != nil {
			e.raiseError(reasonFromHandlerErr(err), err.Error(), now)
			return
		}
		c.StreamOut = nil
		c.StreamOutEmpty = true
		c.JobResolved = true

	case pkframe.OpRequireVariable:
		v, err := e.collab.Vars.Get(c.RootObject)
		if err != nil {
			e.raiseError(reasonFromHandlerErr(err), err.Error(), now)
			return
		}
		c.StreamOut = v
		c.StreamOutEmpty = len(v) == 0
		c.JobResolved = true

	case pkframe.OpGetVersion:
		c.StreamOut = []byte(e.versionString())
		c.StreamOutEmpty = false
		c.JobResolved = true

	case pkframe.OpInvoke:
		job, err := e.collab.Methods.Begin(c.RootObject, c.StreamIn)
		if err != nil {
			e.raiseError(reasonFromHandlerErr(err), err.Error(), now)
			return
		}
		c.Job = job
	}
}

func (e *Engine) pollDeviceJob(now time.Time) {
	c := e.chain
	res := c.Job.Poll(now)
	switch res.State {
	case pkhandler.JobDone:
		c.JobResolved = true
		c.StreamOut = res.Data
		c.StreamOutEmpty = len(res.Data) == 0
		c.touch(now)
	case pkhandler.JobFailed:
		e.raiseError(ReasonHandlerFailed, res.Reason, now)
	}
}

// handleIncomingError ACKs a peer-raised ERROR and returns to Idle.
// Receiving ERROR while already erroring is idempotent (§9 open
// question #3): the chain is simply dropped without a second event.
func (e *Engine) handleIncomingError(f pkframe.Frame, now time.Time) {
	e.queue(pkframe.NewAck(f))
	if !e.inError {
		e.emit(ChainFailed{Reason: ReasonUnexpectedFrame, Description: string(f.Data)})
	}
	e.resetToIdle()
}

// raiseError begins the §7 error-propagation sequence: it notifies the
// caller immediately and arms the sentinel ERROR frame for sending
// (the chain itself is only dropped once the peer ACKs it, or once
// ERROR's own retries are exhausted).
func (e *Engine) raiseError(reason Reason, description string, now time.Time) {
	if e.inError {
		e.forceAbort()
		return
	}
	e.inError = true
	e.emit(ChainFailed{Reason: reason, Description: description})
	e.out.clear()
	if e.chain != nil {
		e.chain.touch(now)
	}
	e.sendNew(pkframe.NewErrorFrame(description), now)
}

// forceAbort drops the chain without sending another frame, used when
// the ERROR frame's own retransmissions are exhausted or a second error
// arises mid-sequence. It emits no event: raiseError already reported
// this chain's ChainFailed.
func (e *Engine) forceAbort() {
	e.resetToIdle()
}

func buildRootFrame(c *ChainContext, id pkframe.MsgID) pkframe.Frame {
	f := pkframe.Frame{ID: id, Op: c.RootOp}
	if c.HasObject {
		f.Object = c.RootObject
		f.HasObject = true
	}
	return f
}

func reasonFromHandlerErr(err error) Reason {
	if errors.Is(err, pkhandler.ErrNotFound) {
		return ReasonNotFound
	}
	return ReasonHandlerFailed
}
