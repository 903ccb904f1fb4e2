package pktransport

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/pkcmd/internal/pkclock"
	"github.com/danmuck/pkcmd/internal/pkengine"
	"github.com/danmuck/pkcmd/internal/pkframe"
)

// received carries one Port.Receive result back to the pump's select
// loop, since Receive blocks and must run on its own goroutine.
type received struct {
	data []byte
	err  error
}

// Pump drives one pkengine.Engine against one Port until either
// stopWhenIdle is true and the engine returns to idle after having
// been busy at least once, or the port closes / errors. Every frame
// the engine produces is sent; every frame the port delivers is fed
// back via OnFrame; onStep, if non-nil, is called once per Poll with
// the chain snapshot immediately before and after that Poll plus the
// Step itself, so a caller can drive logging, diagnostics recording, or
// both from one place without reaching into engine internals.
//
// This is the same responsibility cmd/ghostctl and cmd/miragectl push
// into their respective service Run loops, generalized across the two
// engine roles so cmd/pkhostctl, cmd/pkdevicectl, and cmd/pkbench don't
// each reimplement the receive-goroutine/select plumbing.
func Pump(port Port, eng *pkengine.Engine, clock pkclock.Clock, stopWhenIdle bool, onStep func(before, after pkengine.Snapshot, step pkengine.Step), log zerolog.Logger) error {
	recvCh := make(chan received, 1)
	go func() {
		for {
			data, err := port.Receive()
			recvCh <- received{data: data, err: err}
			if err != nil {
				return
			}
		}
	}()

	wasBusy := eng.Busy()
	for {
		before := eng.Snapshot()
		step := eng.Poll(clock.Now())
		for _, f := range step.ToSend {
			encoded, err := pkframe.Encode(f)
			if err != nil {
				return fmt.Errorf("pktransport: encode outgoing frame: %w", err)
			}
			if err := port.Send(encoded); err != nil {
				return fmt.Errorf("pktransport: send: %w", err)
			}
			log.Debug().Str("op", string(f.Op)).Msg("frame sent")
		}
		if onStep != nil {
			onStep(before, eng.Snapshot(), step)
		}

		if eng.Busy() {
			wasBusy = true
		} else if stopWhenIdle && wasBusy {
			return nil
		}

		var wait <-chan time.Time
		if step.HasWakeAt {
			if d := step.WakeAt.Sub(clock.Now()); d > 0 {
				wait = time.After(d)
			} else {
				wait = time.After(0)
			}
		}

		select {
		case msg := <-recvCh:
			if msg.err != nil {
				return fmt.Errorf("pktransport: receive: %w", msg.err)
			}
			eng.OnFrame(msg.data, clock.Now())
			log.Debug().Int("bytes", len(msg.data)).Msg("frame received")
		case <-wait:
		}
	}
}
