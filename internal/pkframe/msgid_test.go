package pkframe

import "testing"

func TestEncodeDecodeMsgIDRoundTrip(t *testing.T) {
	cases := []struct {
		id   MsgID
		wire string
	}{
		{0, "!!"},
		{1, "!\""},
		{94, "\"!"},
		{8835, "~~"},
	}
	for _, tc := range cases {
		got, err := EncodeMsgID(tc.id)
		if err != nil {
			t.Fatalf("encode %d: %v", tc.id, err)
		}
		if got != tc.wire {
			t.Fatalf("encode %d: got %q want %q", tc.id, got, tc.wire)
		}
		back, err := DecodeMsgID(tc.wire)
		if err != nil {
			t.Fatalf("decode %q: %v", tc.wire, err)
		}
		if back != tc.id {
			t.Fatalf("decode %q: got %d want %d", tc.wire, back, tc.id)
		}
	}
}

func TestEncodeMsgIDOutOfRange(t *testing.T) {
	if _, err := EncodeMsgID(MaxMsgID + 1); err == nil {
		t.Fatalf("expected error for out-of-range id")
	}
}

func TestDecodeMsgIDInvalidLength(t *testing.T) {
	if _, err := DecodeMsgID("!"); err == nil {
		t.Fatalf("expected error for short id")
	}
	if _, err := DecodeMsgID("!!!"); err == nil {
		t.Fatalf("expected error for long id")
	}
}

func TestDecodeMsgIDInvalidChars(t *testing.T) {
	if _, err := DecodeMsgID(" !"); err == nil {
		t.Fatalf("expected error for space in id")
	}
	if _, err := DecodeMsgID("\n\r"); err == nil {
		t.Fatalf("expected error for control chars")
	}
}

func TestIncrementMsgIDWraps(t *testing.T) {
	if got := IncrementMsgID(0); got != 1 {
		t.Fatalf("increment(0) = %d, want 1", got)
	}
	if got := IncrementMsgID(MaxMsgID); got != 0 {
		t.Fatalf("increment(max) = %d, want 0 (wrap)", got)
	}
	if got := IncrementMsgID(100); got != 101 {
		t.Fatalf("increment(100) = %d, want 101", got)
	}
}
