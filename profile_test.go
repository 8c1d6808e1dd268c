package profile

import (
	"testing"

	"github.com/pkg/errors"
)

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr(" 00:1A:7D:DA:71:13 ")
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}
	if a != "00:1a:7d:da:71:13" {
		t.Fatalf("address not normalized: %q", a)
	}
	if len(a.Bytes()) != 6 {
		t.Fatalf("expected 6 bytes, got %x", a.Bytes())
	}

	for _, s := range []string{"", "00:1a:7d:da:71", "00-1a-7d-da-71-13", "zz:1a:7d:da:71:13"} {
		if _, err := ParseAddr(s); err == nil {
			t.Errorf("%q: expected an error", s)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateDisconnected:  "DISCONNECTED",
		StateConnecting:    "CONNECTING",
		StateConnected:     "CONNECTED",
		StateDisconnecting: "DISCONNECTING",
		State(9):           "UNKNOWN",
	} {
		if s.String() != want {
			t.Errorf("%d: got %s, want %s", int(s), s, want)
		}
	}
	if State(9).Valid() || State(-1).Valid() {
		t.Errorf("out of range state reported valid")
	}
	if !StateConnecting.Transient() || StateConnected.Transient() {
		t.Errorf("wrong transient states")
	}
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []ConnectionPolicy{PolicyUnknown, PolicyForbidden, PolicyAllowed} {
		got, err := ParsePolicy(p.String())
		if err != nil || got != p {
			t.Errorf("%v: got %v, %v", p, got, err)
		}
	}
	if _, err := ParsePolicy("maybe"); err == nil {
		t.Errorf("expected an error")
	}
}

func TestParseProfileID(t *testing.T) {
	id, err := ParseProfileID(" LE_Audio")
	if err != nil || id != ProfileLEAudio {
		t.Fatalf("got %v, %v", id, err)
	}
	if _, err := ParseProfileID("fax"); err == nil {
		t.Errorf("expected an error")
	}
	if ProfileID(42).String() != "profile(42)" {
		t.Errorf("unexpected name %s", ProfileID(42))
	}
}

func TestUUID16(t *testing.T) {
	if got := VolumeControlUUID.String(); got != "00001844-0000-1000-8000-00805f9b34fb" {
		t.Fatalf("unexpected uuid %s", got)
	}
}

func TestIsPreconditionRejected(t *testing.T) {
	if !IsPreconditionRejected(errors.Wrap(ErrPolicyForbidden, "00:00:00:00:00:01")) {
		t.Errorf("wrapped precondition not detected")
	}
	if IsPreconditionRejected(errors.Wrap(ErrNativeCommand, "connect")) {
		t.Errorf("native failure reported as precondition")
	}
	if IsPreconditionRejected(nil) {
		t.Errorf("nil reported as precondition")
	}
}
