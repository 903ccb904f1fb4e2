// Package pkhandler defines the collaborator contracts the protocol
// engine (pkengine) consumes to resolve variable and method operations,
// plus a reference in-memory implementation and an opaque-payload arg
// codec for structuring SENDV/INVOK DATA.
//
// Ownership boundary:
// - variable accessor and method invoker interfaces (§4.5)
// - the cooperative, pollable method Job contract
// - arg field codec for structuring opaque DATA payloads
// - reference in-memory Store implementing both contracts
package pkhandler

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by the Variable and Method contracts. The
// engine maps these to the §7 "not_found" / "handler_failed" ERROR
// reasons.
var (
	ErrNotFound = errors.New("pkhandler: not found")
	ErrBadValue = errors.New("pkhandler: bad value")
	ErrBadArgs  = errors.New("pkhandler: bad args")
)

// VariableAccessor resolves SENDV/REQUV root operations. Implementations
// are assumed to return promptly (§4.5); a variable that requires
// blocking work should be modeled as a method instead.
type VariableAccessor interface {
	// Get returns the current value of name, or ErrNotFound.
	Get(name string) ([]byte, error)
	// Set stores value under name, or returns ErrNotFound/ErrBadValue.
	Set(name string, value []byte) error
}

// JobState is the outcome of one MethodInvoker.Poll call.
type JobState int

const (
	// JobPending indicates the job has not produced a result yet; the
	// engine keeps the chain alive with AWAIT frames while pending.
	JobPending JobState = iota
	JobDone
	JobFailed
)

// JobResult is the terminal or in-progress outcome of a polled Job.
type JobResult struct {
	State JobState
	// Data is the method's return payload. Nil means "no data" (RTURN
	// EMPTY) when State == JobDone.
	Data []byte
	// Reason describes a JobFailed outcome.
	Reason string
}

// Job is a non-blocking, restartable handle to one in-flight method
// invocation. It is not an async task: the engine pulls progress itself
// on every call to its own Poll, so Job.Poll must never block.
type Job interface {
	Poll(now time.Time) JobResult
}

// MethodInvoker resolves INVOK root operations. Begin must return
// quickly (it only constructs the Job); all actual work happens across
// subsequent Poll calls driven by the engine.
type MethodInvoker interface {
	// Begin starts a method invocation, or returns ErrNotFound/ErrBadArgs.
	Begin(name string, args []byte) (Job, error)
}

// VersionReporter answers PKVER. The engine owns the fixed protocol
// major version (1); implementations report only their MINOR.PATCH.
type VersionReporter interface {
	Version() (minor, patch int)
}
