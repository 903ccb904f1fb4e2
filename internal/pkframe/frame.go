package pkframe

import (
	"errors"
	"fmt"
)

// Op is one of the protocol's closed set of 5-character ASCII operation
// tokens.
type Op string

// The closed operation set. Every value is exactly 5 ASCII characters.
const (
	OpSendVariable     Op = "SENDV"
	OpRequireVariable  Op = "REQUV"
	OpInvoke           Op = "INVOK"
	OpGetVersion       Op = "PKVER"
	OpStart            Op = "START"
	OpEndTransaction   Op = "ENDTR"
	OpAcknowledge      Op = "ACKNO"
	OpQuery            Op = "QUERY"
	OpReturn           Op = "RTURN"
	OpEmpty            Op = "EMPTY"
	OpData             Op = "SDATA"
	OpAwait            Op = "AWAIT"
	OpError            Op = "ERROR"
)

// ObjectLen is the fixed width of the OBJECT field, and of every Op token.
const ObjectLen = 5

// ObjectEmpty and ObjectError are the two reserved literal OBJECT values
// (as opposed to a variable/method name).
const (
	ObjectEmpty = "EMPTY"
	ObjectError = "ERROR"
)

var knownOps = map[Op]bool{
	OpSendVariable: true, OpRequireVariable: true, OpInvoke: true, OpGetVersion: true,
	OpStart: true, OpEndTransaction: true, OpAcknowledge: true, OpQuery: true,
	OpReturn: true, OpEmpty: true, OpData: true, OpAwait: true, OpError: true,
}

// IsRoot reports whether op is one of the four root operations that may
// declare a chain's intent: SENDV, REQUV, INVOK, PKVER.
func (op Op) IsRoot() bool {
	switch op {
	case OpSendVariable, OpRequireVariable, OpInvoke, OpGetVersion:
		return true
	default:
		return false
	}
}

func (op Op) valid() bool {
	return len(op) == ObjectLen && knownOps[op]
}

// ErrParseFrame is the sentinel wrapped by every frame decode failure.
var ErrParseFrame = errors.New("pkframe: parse error")

// Frame is an immutable parsed or to-be-sent PK Command frame.
//
// Sentinel is true exactly when this frame uses the reserved two-space
// MsgID (ERROR and ACKNO ERROR); ID is meaningless when Sentinel is true.
type Frame struct {
	ID        MsgID
	Sentinel  bool
	Op        Op
	Object    string
	HasObject bool
	Data      []byte
	HasData   bool
}

// NewStart builds a START frame with the given MsgID.
func NewStart(id MsgID) Frame {
	return Frame{ID: id, Op: OpStart}
}

// NewAck builds an ACKNO frame echoing target's MsgID and op.
func NewAck(target Frame) Frame {
	if target.Sentinel || target.Op == OpError {
		return Frame{Sentinel: true, Op: OpAcknowledge, Object: ObjectError, HasObject: true}
	}
	return Frame{ID: target.ID, Op: OpAcknowledge, Object: string(target.Op), HasObject: true}
}

// NewErrorFrame builds the reserved sentinel ERROR frame carrying a
// human-readable description.
func NewErrorFrame(description string) Frame {
	f := Frame{Sentinel: true, Op: OpError, Object: ObjectError, HasObject: true}
	if description != "" {
		f.Data = []byte(description)
		f.HasData = true
	}
	return f
}

// Encode serializes f per the wire layout:
//
//	[MSG_ID(2)][OP(5)] [OBJECT(5)] [DATA...]
//
// OBJECT and DATA are each optional, but DATA requires OBJECT.
func Encode(f Frame) ([]byte, error) {
	if !f.Op.valid() {
		return nil, fmt.Errorf("%w: unknown op %q", ErrParseFrame, f.Op)
	}
	if f.HasData && !f.HasObject {
		return nil, fmt.Errorf("%w: data present without object", ErrParseFrame)
	}
	if f.HasObject && len(f.Object) != ObjectLen {
		return nil, fmt.Errorf("%w: object must be %d chars, got %d", ErrParseFrame, ObjectLen, len(f.Object))
	}

	var idField string
	if f.Sentinel {
		idField = sentinelWire
	} else {
		enc, err := EncodeMsgID(f.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrParseFrame, err)
		}
		idField = enc
	}

	out := make([]byte, 0, 2+ObjectLen+1+ObjectLen+1+len(f.Data))
	out = append(out, idField...)
	out = append(out, f.Op...)
	if f.HasObject {
		out = append(out, ' ')
		out = append(out, f.Object...)
		if f.HasData {
			out = append(out, ' ')
			out = append(out, f.Data...)
		}
	}
	return out, nil
}

// Decode parses b per §4.1 of the wire contract. Any length, charset, or
// structural violation returns an error wrapping ErrParseFrame.
func Decode(b []byte) (Frame, error) {
	if len(b) < 7 {
		return Frame{}, fmt.Errorf("%w: length %d shorter than minimum 7", ErrParseFrame, len(b))
	}

	idField := string(b[0:2])
	if IsSentinelWire(idField) {
		return decodeSentinel(b)
	}

	id, err := DecodeMsgID(idField)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %s", ErrParseFrame, err)
	}

	op := Op(b[2:7])
	if !op.valid() {
		return Frame{}, fmt.Errorf("%w: unrecognized op %q", ErrParseFrame, op)
	}

	switch {
	case len(b) == 7:
		return Frame{ID: id, Op: op}, nil

	case len(b) == 13:
		if b[7] != ' ' {
			return Frame{}, fmt.Errorf("%w: missing space after op", ErrParseFrame)
		}
		return Frame{ID: id, Op: op, Object: string(b[8:13]), HasObject: true}, nil

	case len(b) > 14:
		if b[7] != ' ' || b[13] != ' ' {
			return Frame{}, fmt.Errorf("%w: missing separator around object", ErrParseFrame)
		}
		data := make([]byte, len(b)-14)
		copy(data, b[14:])
		return Frame{
			ID: id, Op: op,
			Object: string(b[8:13]), HasObject: true,
			Data: data, HasData: true,
		}, nil

	default:
		return Frame{}, fmt.Errorf("%w: invalid length %d", ErrParseFrame, len(b))
	}
}

// decodeSentinel handles the reserved two-space MsgID, valid only for
// "  ERROR ERROR [description]" and "  ACKNO ERROR".
func decodeSentinel(b []byte) (Frame, error) {
	if len(b) < 13 {
		return Frame{}, fmt.Errorf("%w: sentinel frame too short", ErrParseFrame)
	}
	opField := Op(b[2:7])
	if b[7] != ' ' {
		return Frame{}, fmt.Errorf("%w: missing space after op", ErrParseFrame)
	}
	objectField := string(b[8:13])

	isAckError := opField == OpAcknowledge && objectField == ObjectError
	isErrError := opField == OpError && objectField == ObjectError
	if !isAckError && !isErrError {
		return Frame{}, fmt.Errorf("%w: sentinel MsgID only valid for ERROR/ACKNO ERROR", ErrParseFrame)
	}

	switch {
	case len(b) == 13:
		return Frame{Sentinel: true, Op: opField, Object: objectField, HasObject: true}, nil
	case len(b) > 14:
		if b[13] != ' ' {
			return Frame{}, fmt.Errorf("%w: missing space before data", ErrParseFrame)
		}
		data := make([]byte, len(b)-14)
		copy(data, b[14:])
		return Frame{Sentinel: true, Op: opField, Object: objectField, HasObject: true, Data: data, HasData: true}, nil
	default:
		return Frame{}, fmt.Errorf("%w: invalid sentinel frame length %d", ErrParseFrame, len(b))
	}
}
