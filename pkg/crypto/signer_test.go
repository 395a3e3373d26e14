package crypto

import (
	"testing"
)

func TestSigner_SignAndVerify(t *testing.T) {
	s := NewSigner("secret", nil)
	data := []byte("payload")

	sig := s.Sign(data)

	if ok, err := s.Verify(data, sig); !ok || err != nil {
		t.Fatalf("expected valid signature, got ok=%v err=%v", ok, err)
	}
	if ok, err := s.Verify([]byte("other"), sig); ok || err == nil {
		t.Fatalf("expected invalid signature for different data")
	}
}

func TestSigner_CommitHashDependsOnHeight(t *testing.T) {
	s := NewSigner("secret", nil)
	payload := []byte(`{"id":"op-1"}`)

	first := s.CommitHash(payload, 1)
	second := s.CommitHash(payload, 2)

	if first == second {
		t.Fatalf("expected distinct commit hashes per height, got %s twice", first)
	}
	if len(first) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(first))
	}
	if ok, err := s.VerifyCommit(payload, 2, second); !ok || err != nil {
		t.Errorf("expected commit hash to verify, got ok=%v err=%v", ok, err)
	}
}
