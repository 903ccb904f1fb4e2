package pkengine

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pkcmd/internal/pkframe"
	"github.com/danmuck/pkcmd/internal/pkhandler"
)

func newTestEngine(role Role, mtu int, collab Collaborators, now time.Time) (*Engine, *fakeClock) {
	fc := &fakeClock{now: now}
	e := NewEngine(role, mtu, collab, DefaultConfig(), fc, zerolog.Nop())
	return e, fc
}

// fakeClock lets handleAck/Poll calls in a test loop all agree on the
// current instant without reaching across packages for pkclock.Fake's
// exported API.
type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

// pump exchanges frames between host and device until neither produces
// any, or maxRounds is exceeded. It never advances hc or dc, so it only
// drives reactive exchanges; tests of timer-driven behavior (retries,
// AWAIT) move the clocks themselves.
func pump(t *testing.T, host, device *Engine, hc, dc *fakeClock, maxRounds int) (hostEvents, deviceEvents []Event) {
	t.Helper()
	for i := 0; i < maxRounds; i++ {
		hostStep := host.Poll(hc.now)
		hostEvents = append(hostEvents, hostStep.Events...)
		deviceStep := device.Poll(dc.now)
		deviceEvents = append(deviceEvents, deviceStep.Events...)

		if len(hostStep.ToSend) == 0 && len(deviceStep.ToSend) == 0 {
			return hostEvents, deviceEvents
		}
		for _, f := range hostStep.ToSend {
			b, err := pkframe.Encode(f)
			if err != nil {
				t.Fatalf("host encode: %v", err)
			}
			device.OnFrame(b, dc.now)
		}
		for _, f := range deviceStep.ToSend {
			b, err := pkframe.Encode(f)
			if err != nil {
				t.Fatalf("device encode: %v", err)
			}
			host.OnFrame(b, hc.now)
		}
	}
	t.Fatalf("exchange did not settle within %d rounds", maxRounds)
	return nil, nil
}

func findCompleted(events []Event) (ChainCompleted, bool) {
	for _, ev := range events {
		if c, ok := ev.(ChainCompleted); ok {
			return c, true
		}
	}
	return ChainCompleted{}, false
}

func findFailed(events []Event) (ChainFailed, bool) {
	for _, ev := range events {
		if c, ok := ev.(ChainFailed); ok {
			return c, true
		}
	}
	return ChainFailed{}, false
}

func TestSendVariableRoundTripChunked(t *testing.T) {
	start := time.Unix(0, 0)
	store := pkhandler.NewStore(1, 0)
	host, hc := newTestEngine(RoleHost, 30, Collaborators{}, start)
	device, dc := newTestEngine(RoleDevice, 30, Collaborators{Vars: store, Methods: store, Version: store}, start)

	payload := []byte("abcdefghijklmnopqrstuvwxyz01") // forces >1 chunk at mtu-14=16
	if err := host.StartHostChain(pkframe.OpSendVariable, "VARIA", payload); err != nil {
		t.Fatalf("start chain: %v", err)
	}

	hostEvents, deviceEvents := pump(t, host, device, hc, dc, 50)

	completed, ok := findCompleted(hostEvents)
	if !ok {
		t.Fatalf("expected host ChainCompleted, got %+v", hostEvents)
	}
	if completed.RootOp != pkframe.OpSendVariable || completed.RootObject != "VARIA" {
		t.Fatalf("unexpected completion: %+v", completed)
	}
	if _, ok := findCompleted(deviceEvents); !ok {
		t.Fatalf("expected device ChainCompleted, got %+v", deviceEvents)
	}

	got, err := store.Get("VARIA")
	if err != nil {
		t.Fatalf("get VARIA: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("store mismatch: got %q want %q", got, payload)
	}
	if host.Busy() || device.Busy() {
		t.Fatalf("expected both engines idle after completion")
	}
}

func TestRequireVariableRoundTrip(t *testing.T) {
	start := time.Unix(0, 0)
	store := pkhandler.NewStore(1, 0)
	if err := store.Set("VARIA", []byte("42")); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	host, hc := newTestEngine(RoleHost, 64, Collaborators{}, start)
	device, dc := newTestEngine(RoleDevice, 64, Collaborators{Vars: store, Methods: store, Version: store}, start)

	if err := host.StartHostChain(pkframe.OpRequireVariable, "VARIA", nil); err != nil {
		t.Fatalf("start chain: %v", err)
	}
	hostEvents, _ := pump(t, host, device, hc, dc, 50)

	completed, ok := findCompleted(hostEvents)
	if !ok {
		t.Fatalf("expected ChainCompleted, got %+v", hostEvents)
	}
	if string(completed.OutboundBytes) != "42" {
		t.Fatalf("got %q, want 42", completed.OutboundBytes)
	}
}

func TestGetVersion(t *testing.T) {
	start := time.Unix(0, 0)
	store := pkhandler.NewStore(3, 7)
	host, hc := newTestEngine(RoleHost, 64, Collaborators{}, start)
	device, dc := newTestEngine(RoleDevice, 64, Collaborators{Vars: store, Methods: store, Version: store}, start)

	if err := host.StartHostChain(pkframe.OpGetVersion, "", nil); err != nil {
		t.Fatalf("start chain: %v", err)
	}
	hostEvents, _ := pump(t, host, device, hc, dc, 50)

	completed, ok := findCompleted(hostEvents)
	if !ok {
		t.Fatalf("expected ChainCompleted, got %+v", hostEvents)
	}
	if string(completed.OutboundBytes) != "1.3.7" {
		t.Fatalf("got %q, want 1.3.7", completed.OutboundBytes)
	}
}

// timedJob reports Pending until dur has elapsed since its first Poll
// call, then resolves. Unlike a call-counted fixture, this behaves
// correctly regardless of how often (or rarely) the engine happens to
// call Poll, matching how a real long-running handler would behave.
type timedJob struct {
	dur     time.Duration
	readyAt time.Time
	started bool
	result  pkhandler.JobResult
}

func (j *timedJob) Poll(now time.Time) pkhandler.JobResult {
	if !j.started {
		j.started = true
		j.readyAt = now.Add(j.dur)
	}
	if now.Before(j.readyAt) {
		return pkhandler.JobResult{State: pkhandler.JobPending}
	}
	return j.result
}

func TestInvokeWithAwaitKeepAlive(t *testing.T) {
	start := time.Unix(0, 0)
	store := pkhandler.NewStore(1, 0)
	if err := store.RegisterMethod("DOWRK", nil, func(args []byte) (pkhandler.Job, error) {
		return &timedJob{dur: 700 * time.Millisecond, result: pkhandler.JobResult{State: pkhandler.JobDone, Data: []byte("OK")}}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	host, _ := newTestEngine(RoleHost, 64, Collaborators{}, start)
	device, _ := newTestEngine(RoleDevice, 64, Collaborators{Vars: store, Methods: store, Version: store}, start)

	if err := host.StartHostChain(pkframe.OpInvoke, "DOWRK", nil); err != nil {
		t.Fatalf("start chain: %v", err)
	}

	now := start
	awaitCount := 0
	for i := 0; i < 200; i++ {
		hostStep := host.Poll(now)
		deviceStep := device.Poll(now)

		progressed := len(hostStep.ToSend) > 0 || len(deviceStep.ToSend) > 0
		for _, f := range hostStep.ToSend {
			if f.Op == pkframe.OpAwait {
				awaitCount++
			}
			b, _ := pkframe.Encode(f)
			device.OnFrame(b, now)
		}
		for _, f := range deviceStep.ToSend {
			if f.Op == pkframe.OpAwait {
				awaitCount++
			}
			b, _ := pkframe.Encode(f)
			host.OnFrame(b, now)
		}
		if !host.Busy() && !device.Busy() {
			break
		}
		if progressed {
			continue
		}
		next, ok := earliestWake(hostStep, deviceStep)
		if !ok || !next.After(now) {
			t.Fatalf("stalled with no progress and no forward wake deadline at i=%d", i)
		}
		now = next
	}
	if host.Busy() || device.Busy() {
		t.Fatalf("chain did not complete")
	}
	if awaitCount < 2 {
		t.Fatalf("expected at least 2 AWAIT frames, saw %d", awaitCount)
	}
}

func earliestWake(steps ...Step) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, s := range steps {
		if !s.HasWakeAt {
			continue
		}
		if !found || s.WakeAt.Before(earliest) {
			earliest = s.WakeAt
			found = true
		}
	}
	return earliest, found
}

func TestDroppedAckIsRetransmittedAndDeduplicated(t *testing.T) {
	start := time.Unix(0, 0)
	setCalls := 0
	store := pkhandler.NewStore(1, 0)
	host, hc := newTestEngine(RoleHost, 64, Collaborators{}, start)
	device, dc := newTestEngine(RoleDevice, 64, Collaborators{Vars: countingVars{store, &setCalls}, Methods: store, Version: store}, start)

	if err := host.StartHostChain(pkframe.OpSendVariable, "VARIA", []byte("hi")); err != nil {
		t.Fatalf("start chain: %v", err)
	}

	// Drive exactly through START, then drop the Device's ACKNO SENDV.
	step := host.Poll(hc.now) // START queued
	for _, f := range step.ToSend {
		b, _ := pkframe.Encode(f)
		device.OnFrame(b, dc.now)
	}
	dstep := device.Poll(dc.now) // ACKNO START
	for _, f := range dstep.ToSend {
		b, _ := pkframe.Encode(f)
		host.OnFrame(b, hc.now)
	}
	step = host.Poll(hc.now) // SENDV VARIA
	var sendvFrame pkframe.Frame
	for _, f := range step.ToSend {
		sendvFrame = f
		b, _ := pkframe.Encode(f)
		device.OnFrame(b, dc.now)
	}
	dstep = device.Poll(dc.now) // ACKNO SENDV -- dropped, never delivered to host
	if len(dstep.ToSend) != 1 {
		t.Fatalf("expected device to emit exactly one ACK frame")
	}

	// Host times out and retransmits the identical SENDV frame.
	hc.now = hc.now.Add(150 * time.Millisecond)
	retryStep := host.Poll(hc.now)
	if len(retryStep.ToSend) != 1 || retryStep.ToSend[0].Op != pkframe.OpSendVariable {
		t.Fatalf("expected one retransmitted SENDV, got %+v", retryStep.ToSend)
	}
	b, _ := pkframe.Encode(retryStep.ToSend[0])
	device.OnFrame(b, dc.now)
	dupStep := device.Poll(dc.now)
	if len(dupStep.ToSend) != 1 || dupStep.ToSend[0].Op != pkframe.OpAcknowledge {
		t.Fatalf("expected device to re-emit the prior ACK, got %+v", dupStep.ToSend)
	}
	b, _ = pkframe.Encode(dupStep.ToSend[0])
	host.OnFrame(b, hc.now)

	_, _ = pump(t, host, device, hc, dc, 50)

	if setCalls != 1 {
		t.Fatalf("expected exactly one Set call despite retransmission, got %d", setCalls)
	}
	_ = sendvFrame
}

type countingVars struct {
	*pkhandler.Store
	calls *int
}

func (c countingVars) Set(name string, value []byte) error {
	*c.calls++
	return c.Store.Set(name, value)
}

func TestAckMismatchAbortsChain(t *testing.T) {
	start := time.Unix(0, 0)
	host, hc := newTestEngine(RoleHost, 64, Collaborators{}, start)

	if err := host.StartHostChain(pkframe.OpSendVariable, "VARIA", []byte("x")); err != nil {
		t.Fatalf("start chain: %v", err)
	}
	_ = host.Poll(hc.now) // flush START

	bad := pkframe.Frame{ID: 0, Op: pkframe.OpAcknowledge, Object: "REQUV", HasObject: true}
	b, err := pkframe.Encode(bad)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	host.OnFrame(b, hc.now)

	step := host.Poll(hc.now)
	failed, ok := findFailed(step.Events)
	if !ok || failed.Reason != ReasonAckMismatch {
		t.Fatalf("expected ack_mismatch ChainFailed, got %+v", step.Events)
	}
	if len(step.ToSend) != 1 || step.ToSend[0].Op != pkframe.OpError {
		t.Fatalf("expected one ERROR frame, got %+v", step.ToSend)
	}
}

func TestMsgIDWrapsAfterSuccessfulExchange(t *testing.T) {
	start := time.Unix(0, 0)
	store := pkhandler.NewStore(1, 0)
	host, hc := newTestEngine(RoleHost, 64, Collaborators{}, start)
	device, dc := newTestEngine(RoleDevice, 64, Collaborators{Vars: store, Methods: store, Version: store}, start)
	host.nextSendID = pkframe.MaxMsgID
	device.nextSendID = pkframe.MaxMsgID

	if err := host.StartHostChain(pkframe.OpSendVariable, "VARIA", []byte("z")); err != nil {
		t.Fatalf("start chain: %v", err)
	}
	step := host.Poll(hc.now) // START, wire id "~~"
	if len(step.ToSend) != 1 || step.ToSend[0].ID != pkframe.MaxMsgID {
		t.Fatalf("expected START at MaxMsgID, got %+v", step.ToSend)
	}
	b, _ := pkframe.Encode(step.ToSend[0])
	device.OnFrame(b, dc.now)
	dstep := device.Poll(dc.now) // ACKNO START
	if device.nextSendID != 0 {
		t.Fatalf("expected device MsgID counter to wrap to 0, got %d", device.nextSendID)
	}
	for _, f := range dstep.ToSend {
		b, _ := pkframe.Encode(f)
		host.OnFrame(b, hc.now)
	}
	if host.nextSendID != 0 {
		t.Fatalf("expected host MsgID counter to wrap to 0, got %d", host.nextSendID)
	}
}

func TestStartHostChainRejectsWhenBusy(t *testing.T) {
	start := time.Unix(0, 0)
	host, _ := newTestEngine(RoleHost, 64, Collaborators{}, start)
	if err := host.StartHostChain(pkframe.OpSendVariable, "VARIA", nil); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := host.StartHostChain(pkframe.OpSendVariable, "VARIA", nil); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}
