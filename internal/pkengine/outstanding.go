package pkengine

import (
	"time"

	"github.com/danmuck/pkcmd/internal/pkframe"
)

// OutstandingSend tracks the single non-ACK frame a peer has
// transmitted and not yet seen ACKed. The engine never arms a second
// one while this is live (stop-and-wait, §3/§4.3).
type OutstandingSend struct {
	Armed       bool
	Frame       pkframe.Frame
	FirstSentAt time.Time
	Deadline    time.Time
	Attempts    int
}

// armFor records frame as newly sent at now, due for retransmit after d.
func (o *OutstandingSend) armFor(frame pkframe.Frame, now time.Time, d time.Duration) {
	o.Armed = true
	o.Frame = frame
	o.FirstSentAt = now
	o.Deadline = now.Add(d)
	o.Attempts = 1
}

// retransmit bumps the attempt counter and deadline, returning the
// identical frame to resend.
func (o *OutstandingSend) retransmit(now time.Time, d time.Duration) pkframe.Frame {
	o.Attempts++
	o.Deadline = now.Add(d)
	return o.Frame
}

func (o *OutstandingSend) clear() {
	*o = OutstandingSend{}
}

// matchesAck reports whether ack correctly acknowledges this outstanding
// send, per §4.3's "X == sent.msg_id && Y == sent.op" rule (sentinel
// frames compare on the reserved ERROR object instead of MsgID).
func (o *OutstandingSend) matchesAck(ack pkframe.Frame) bool {
	if !o.Armed || ack.Op != pkframe.OpAcknowledge {
		return false
	}
	if o.Frame.Sentinel {
		return ack.Sentinel && ack.HasObject && ack.Object == pkframe.ObjectError
	}
	return !ack.Sentinel && ack.HasObject && ack.Object == string(o.Frame.Op) && ack.ID == o.Frame.ID
}
