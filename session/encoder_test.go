package session

import (
	"reflect"
	"testing"
	"time"
)

func sampleSession() *Session {
	now := time.Now()
	return &Session{
		SessionID:      "s-1",
		IdentityID:     "id-42",
		Role:           "admin",
		AssuranceLevel: AssuranceTier2,
		MethodsUsed:    []string{"identifier_code", "platform_credential"},
		EstablishedAt:  now.Unix(),
		ExpiresAt:      now.Add(time.Hour).Unix(),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleSession()
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\nin:  %+v\nout: %+v", in, out)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	data, err := Encode(sampleSession())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data[0] = 99
	if _, err := Decode(data); err == nil {
		t.Fatal("expected unknown version to be rejected")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	data, err := Encode(sampleSession())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for cut := 1; cut < len(data); cut += 3 {
		if _, err := Decode(data[:cut]); err == nil {
			t.Fatalf("expected truncation at %d to fail", cut)
		}
	}
}

func TestDecodeRejectsBadAssurance(t *testing.T) {
	s := sampleSession()
	s.MethodsUsed = nil
	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// assurance byte follows version + three length-prefixed strings
	idx := 1 + 1 + len(s.SessionID) + 1 + len(s.IdentityID) + 1 + len(s.Role)
	data[idx] = 7
	if _, err := Decode(data); err == nil {
		t.Fatal("expected invalid assurance to be rejected")
	}
}

func TestEncodeRejectsOversizedFields(t *testing.T) {
	s := sampleSession()
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	s.Role = string(long)
	if _, err := Encode(s); err == nil {
		t.Fatal("expected oversized field to be rejected")
	}
}

func TestParseAssurance(t *testing.T) {
	if Parse("tier1") != AssuranceTier1 || Parse("tier2") != AssuranceTier2 {
		t.Fatal("known values must parse")
	}
	if Parse("tier9") != AssuranceNone || Parse("") != AssuranceNone {
		t.Fatal("unknown values must parse as none")
	}
}

func TestCloneIsDeep(t *testing.T) {
	in := sampleSession()
	out := in.Clone()
	out.MethodsUsed[0] = "mutated"
	if in.MethodsUsed[0] == "mutated" {
		t.Fatal("clone aliases MethodsUsed")
	}
}
