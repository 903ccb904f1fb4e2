package pkdiag

import (
	"sync"
	"time"

	"github.com/danmuck/pkcmd/internal/pkengine"
)

// Recorder is a passive observer wired alongside an Engine by its
// hosting cmd/* driver loop: it never drives the engine itself, only
// reflects the Step/Snapshot values that loop already produced into
// Prometheus metrics and a JSON-friendly snapshot for pkdiag's routes.
type Recorder struct {
	mu sync.RWMutex

	role    string
	current pkengine.Snapshot

	completedTotal int64
	failedTotal    int64
	retransmits    int64
	lastEventAt    time.Time
}

func NewRecorder(role string) *Recorder {
	return &Recorder{role: role}
}

// Observe folds one driver-loop cycle into the recorder: before/after
// are Engine.Snapshot() taken immediately before and after the Poll
// call that produced step. A chain that ended inside an OnFrame call
// between two Polls is already idle in before; its start time and root
// op are then taken from the previous call's after snapshot.
func (r *Recorder) Observe(before, after pkengine.Snapshot, step pkengine.Step, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := before
	if !before.Active {
		chain = r.current
	}
	r.current = after
	r.lastEventAt = now

	if before.Active && after.Active && after.Retries > before.Retries {
		r.retransmits++
		RecordRetransmit(r.role)
	}
	for _, ev := range step.Events {
		switch e := ev.(type) {
		case pkengine.ChainCompleted:
			r.completedTotal++
			RecordChainCompleted(r.role, string(e.RootOp), now.Sub(chain.StartedAt))
		case pkengine.ChainFailed:
			r.failedTotal++
			RecordChainFailed(r.role, string(chain.RootOp))
		}
	}
}

// Totals is a point-in-time copy of the recorder's running counters.
type Totals struct {
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Retransmits int64 `json:"retransmits"`
}

func (r *Recorder) Totals() Totals {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Totals{Completed: r.completedTotal, Failed: r.failedTotal, Retransmits: r.retransmits}
}

// Current returns the most recently observed chain snapshot.
func (r *Recorder) Current() pkengine.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Recorder) LastEventAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastEventAt
}
