package pkhandler

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MethodFunc begins one invocation of a registered method, given its
// opaque argument bytes.
type MethodFunc func(args []byte) (Job, error)

// Store is a reference in-memory VariableAccessor + MethodInvoker +
// VersionReporter, grounded on the same register/resolve shape a seed
// registry uses to hold named, validated handlers.
type Store struct {
	mu        sync.RWMutex
	variables map[string][]byte
	methods   map[string]registeredMethod

	versionMinor int
	versionPatch int
}

type registeredMethod struct {
	fn       MethodFunc
	required []ArgRequirement
}

// ArgRequirement declares one required field within a method's args
// payload; Begin rejects calls missing it with ErrBadArgs.
type ArgRequirement struct {
	ID   uint16
	Type uint8
}

// NewStore creates an empty in-memory handler store.
func NewStore(versionMinor, versionPatch int) *Store {
	return &Store{
		variables:    make(map[string][]byte),
		methods:      make(map[string]registeredMethod),
		versionMinor: versionMinor,
		versionPatch: versionPatch,
	}
}

// Get implements VariableAccessor.
func (s *Store) Get(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[name]
	if !ok {
		return nil, fmt.Errorf("%w: variable %q", ErrNotFound, name)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set implements VariableAccessor. An empty name is rejected as a bad
// value; any name is otherwise accepted (a fresh variable is created).
func (s *Store) Set(name string, value []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty variable name", ErrBadValue)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[name] = buf
	return nil
}

// RegisterMethod adds a named method handler. required lists the arg
// fields Begin must validate before invoking fn, mirroring a
// required-field schema check against the opaque args payload.
func (s *Store) RegisterMethod(name string, required []ArgRequirement, fn MethodFunc) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty method name", ErrBadValue)
	}
	if fn == nil {
		return fmt.Errorf("%w: nil method handler for %q", ErrBadValue, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[name] = registeredMethod{fn: fn, required: required}
	return nil
}

// Begin implements MethodInvoker.
func (s *Store) Begin(name string, args []byte) (Job, error) {
	s.mu.RLock()
	m, ok := s.methods[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: method %q", ErrNotFound, name)
	}
	if err := validateArgs(name, args, m.required); err != nil {
		return nil, err
	}
	return m.fn(args)
}

// Version implements VersionReporter.
func (s *Store) Version() (minor, patch int) {
	return s.versionMinor, s.versionPatch
}

func validateArgs(method string, payload []byte, required []ArgRequirement) error {
	if len(required) == 0 {
		return nil
	}
	fields, err := DecodeArgs(payload)
	if err != nil {
		return fmt.Errorf("%w: method %q args: %s", ErrBadArgs, method, err)
	}
	for _, req := range required {
		f, found := GetArg(fields, req.ID)
		if !found {
			return fmt.Errorf("%w: method %q missing arg %d", ErrBadArgs, method, req.ID)
		}
		if f.Type != req.Type {
			return fmt.Errorf("%w: method %q arg %d type mismatch: got %d want %d",
				ErrBadArgs, method, req.ID, f.Type, req.Type)
		}
	}
	return nil
}

// immediateJob is a Job that is already resolved at construction.
type immediateJob struct {
	result JobResult
}

// NewImmediateJob returns a Job whose first Poll immediately reports
// data (or failure, via reason).
func NewImmediateJob(data []byte, reason string) Job {
	if reason != "" {
		return immediateJob{result: JobResult{State: JobFailed, Reason: reason}}
	}
	return immediateJob{result: JobResult{State: JobDone, Data: data}}
}

func (j immediateJob) Poll(_ time.Time) JobResult {
	return j.result
}

// countdownJob reports Pending for a fixed number of polls before
// resolving, used to exercise AWAIT keep-alive behavior deterministically
// (see scenario 3 of the wire-transcript test suite).
type countdownJob struct {
	remaining int
	final     JobResult
}

// NewCountdownJob returns a Job that reports Pending for `pending` polls
// before resolving to final.
func NewCountdownJob(pending int, final JobResult) Job {
	return &countdownJob{remaining: pending, final: final}
}

func (j *countdownJob) Poll(_ time.Time) JobResult {
	if j.remaining > 0 {
		j.remaining--
		return JobResult{State: JobPending}
	}
	return j.final
}
