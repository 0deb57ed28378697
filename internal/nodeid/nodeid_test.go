package nodeid

import (
	"strings"
	"testing"
)

func TestNodeIdRoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	id := signer.NodeId()

	s := id.String()
	if !strings.HasPrefix(s, "z") {
		t.Fatalf("expected base58btc multibase prefix 'z', got %q", s)
	}

	parsed, err := ParseNodeId(s)
	if err != nil {
		t.Fatalf("ParseNodeId: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %v != %v", parsed, id)
	}
}

func TestSignVerify(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	msg := []byte("hello weave")
	sig := signer.Sign(msg)

	if !signer.NodeId().Verify(msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if signer.NodeId().Verify([]byte("tampered"), sig) {
		t.Fatal("expected signature over different message to fail")
	}
}

func TestNodeIdFromBytesInvalidLength(t *testing.T) {
	if _, err := NodeIdFromBytes([]byte{1, 2, 3}); err != ErrInvalidLength {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestObjectIdHexRoundTrip(t *testing.T) {
	const oid = "356a192b7913b04c54574d18c28d46e6395428ab" // sha1("1")
	id, err := ObjectIdFromHex(oid)
	if err != nil {
		t.Fatalf("ObjectIdFromHex: %v", err)
	}
	if id.String() != oid {
		t.Fatalf("got %q, want %q", id.String(), oid)
	}

	wire := id.Bytes()
	decoded, err := ObjectIdFromMultihashBytes(wire)
	if err != nil {
		t.Fatalf("ObjectIdFromMultihashBytes: %v", err)
	}
	if decoded.String() != oid {
		t.Fatalf("round trip got %q, want %q", decoded.String(), oid)
	}
}

func TestRepoIdCid(t *testing.T) {
	id, err := ObjectIdFromHex("356a192b7913b04c54574d18c28d46e6395428ab")
	if err != nil {
		t.Fatalf("ObjectIdFromHex: %v", err)
	}
	rid := RepoId{Oid: id}
	c, err := rid.Cid()
	if err != nil {
		t.Fatalf("Cid: %v", err)
	}
	if !c.Defined() {
		t.Fatal("expected a defined cid")
	}
}

func TestAliasValidate(t *testing.T) {
	ok := Alias(strings.Repeat("a", MaxAliasLength))
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected max-length alias to validate, got %v", err)
	}
	tooLong := Alias(strings.Repeat("a", MaxAliasLength+1))
	if err := tooLong.Validate(); err == nil {
		t.Fatal("expected over-length alias to fail validation")
	}
}
