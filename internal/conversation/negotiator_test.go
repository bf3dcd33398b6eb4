package conversation

import "testing"

func TestNegotiate(t *testing.T) {
	cases := []struct {
		name       string
		total      int
		cursor     int
		accepted   bool
		wantCursor int
		wantOut    Outcome
	}{
		{"accept first of three", 3, 1, true, 1, OutcomeAccept},
		{"accept last of three", 3, 3, true, 3, OutcomeAccept},
		{"reject first of three", 3, 1, false, 2, OutcomeAdvance},
		{"reject middle of three", 3, 2, false, 3, OutcomeAdvance},
		{"reject last of three", 3, 3, false, 0, OutcomeExhausted},
		{"reject only candidate", 1, 1, false, 0, OutcomeExhausted},
		{"accept only candidate", 1, 1, true, 1, OutcomeAccept},
	}
	for _, tc := range cases {
		cursor, out := Negotiate(tc.total, tc.cursor, tc.accepted)
		if cursor != tc.wantCursor || out != tc.wantOut {
			t.Fatalf("%s: got (%d, %s), want (%d, %s)", tc.name, cursor, out, tc.wantCursor, tc.wantOut)
		}
	}
}

func TestNegotiateNeverRevisits(t *testing.T) {
	// Rejecting every candidate walks the cursor strictly forward.
	cursor := 1
	seen := map[int]bool{}
	for {
		if seen[cursor] {
			t.Fatalf("cursor %d visited twice", cursor)
		}
		seen[cursor] = true
		next, out := Negotiate(3, cursor, false)
		if out == OutcomeExhausted {
			break
		}
		if next <= cursor {
			t.Fatalf("cursor went backwards: %d -> %d", cursor, next)
		}
		cursor = next
	}
	if len(seen) != 3 {
		t.Fatalf("visited %d candidates, want 3", len(seen))
	}
}
