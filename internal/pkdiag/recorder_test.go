package pkdiag

import (
	"testing"
	"time"

	"github.com/danmuck/pkcmd/internal/pkengine"
	"github.com/danmuck/pkcmd/internal/pkframe"
)

func TestRecorderObserveCountsCompletionsAndRetransmits(t *testing.T) {
	r := NewRecorder("host")
	start := time.Unix(0, 0)

	before := pkengine.Snapshot{Active: true, RootOp: pkframe.OpSendVariable, StartedAt: start, Retries: 0}
	afterRetry := pkengine.Snapshot{Active: true, RootOp: pkframe.OpSendVariable, StartedAt: start, Retries: 1}
	r.Observe(before, afterRetry, pkengine.Step{}, start.Add(150*time.Millisecond))

	if got := r.Totals().Retransmits; got != 1 {
		t.Fatalf("expected 1 retransmit, got %d", got)
	}

	afterDone := pkengine.Snapshot{}
	step := pkengine.Step{Events: []pkengine.Event{
		pkengine.ChainCompleted{RootOp: pkframe.OpSendVariable, RootObject: "VARIA"},
	}}
	r.Observe(afterRetry, afterDone, step, start.Add(300*time.Millisecond))

	totals := r.Totals()
	if totals.Completed != 1 {
		t.Fatalf("expected 1 completed chain, got %d", totals.Completed)
	}
	if r.Current().Active {
		t.Fatalf("expected recorder to reflect idle engine after completion")
	}
}

func TestRecorderObserveCountsFailures(t *testing.T) {
	r := NewRecorder("device")
	start := time.Unix(0, 0)

	before := pkengine.Snapshot{Active: true, RootOp: pkframe.OpInvoke, StartedAt: start}
	step := pkengine.Step{Events: []pkengine.Event{
		pkengine.ChainFailed{Reason: pkengine.ReasonHandlerFailed, Description: "boom"},
	}}
	r.Observe(before, pkengine.Snapshot{}, step, start.Add(10*time.Millisecond))

	if got := r.Totals().Failed; got != 1 {
		t.Fatalf("expected 1 failed chain, got %d", got)
	}
}
