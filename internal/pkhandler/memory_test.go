package pkhandler

import (
	"errors"
	"testing"
	"time"
)

func TestStoreVariableGetSetRoundTrip(t *testing.T) {
	s := NewStore(2, 0)
	if err := s.Set("VARIA", []byte("hello")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get("VARIA")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestStoreGetMissingVariable(t *testing.T) {
	s := NewStore(2, 0)
	if _, err := s.Get("NOPE1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreSetRejectsEmptyName(t *testing.T) {
	s := NewStore(2, 0)
	if err := s.Set("", []byte("x")); !errors.Is(err, ErrBadValue) {
		t.Fatalf("expected ErrBadValue, got %v", err)
	}
}

func TestStoreMethodNotFound(t *testing.T) {
	s := NewStore(2, 0)
	if _, err := s.Begin("NOSUC", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreMethodRequiredArgsValidated(t *testing.T) {
	s := NewStore(2, 0)
	err := s.RegisterMethod("ADDUP",
		[]ArgRequirement{{ID: 1, Type: ArgTypeU32}, {ID: 2, Type: ArgTypeU32}},
		func(args []byte) (Job, error) {
			fields, _ := DecodeArgs(args)
			a, _ := GetArg(fields, 1)
			b, _ := GetArg(fields, 2)
			av, _ := a.Uint32()
			bv, _ := b.Uint32()
			return NewImmediateJob(NewArgUint32(0, av+bv).Value, ""), nil
		})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := s.Begin("ADDUP", EncodeArgs([]Arg{NewArgUint32(1, 1)})); !errors.Is(err, ErrBadArgs) {
		t.Fatalf("expected ErrBadArgs for missing field, got %v", err)
	}

	job, err := s.Begin("ADDUP", EncodeArgs([]Arg{NewArgUint32(1, 40), NewArgUint32(2, 2)}))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	result := job.Poll(time.Now())
	if result.State != JobDone {
		t.Fatalf("expected JobDone, got %v", result.State)
	}
}

func TestCountdownJobPendsThenResolves(t *testing.T) {
	job := NewCountdownJob(2, JobResult{State: JobDone, Data: []byte("OK")})
	for i := 0; i < 2; i++ {
		if r := job.Poll(time.Now()); r.State != JobPending {
			t.Fatalf("poll %d: expected Pending, got %v", i, r.State)
		}
	}
	r := job.Poll(time.Now())
	if r.State != JobDone || string(r.Data) != "OK" {
		t.Fatalf("unexpected final result: %+v", r)
	}
}

func TestStoreVersionReporter(t *testing.T) {
	s := NewStore(3, 7)
	minor, patch := s.Version()
	if minor != 3 || patch != 7 {
		t.Fatalf("got %d.%d, want 3.7", minor, patch)
	}
}
