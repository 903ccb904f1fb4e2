package pkhandler

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeArgsRoundTripPreservesUnknown(t *testing.T) {
	in := []Arg{
		NewArgString(1, "intent-1"),
		{ID: 9999, Type: ArgTypeBytes, Value: []byte{0xAA, 0xBB}},
	}
	b := EncodeArgs(in)
	out, err := DecodeArgs(b)
	if err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != ArgTypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeArgsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeArgs([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortArgHeader) {
		t.Fatalf("expected ErrShortArgHeader, got %v", err)
	}
}

func TestDecodeArgsMalformedLengthIsDeterministic(t *testing.T) {
	payload := []byte{0, 1, ArgTypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeArgs(payload)
	if !errors.Is(err, ErrShortArgValue) {
		t.Fatalf("expected ErrShortArgValue, got %v", err)
	}
}

func TestArgUint32RoundTrip(t *testing.T) {
	a := NewArgUint32(7, 42)
	v, err := a.Uint32()
	if err != nil {
		t.Fatalf("uint32: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}
	if _, err := a.String(); !errors.Is(err, ErrArgTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestGetArg(t *testing.T) {
	args := []Arg{NewArgString(1, "a"), NewArgUint32(2, 5)}
	f, ok := GetArg(args, 2)
	if !ok {
		t.Fatalf("expected field 2 to be found")
	}
	v, err := f.Uint32()
	if err != nil || v != 5 {
		t.Fatalf("got %d, %v", v, err)
	}
	if _, ok := GetArg(args, 99); ok {
		t.Fatalf("expected field 99 to be absent")
	}
}
