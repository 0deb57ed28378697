package transport

import (
	"bytes"
	"testing"

	"github.com/flynn/noise"
)

// TestNoiseHandshakeXX exercises the same XX handshake pattern
// go-libp2p's noise security transport performs under the host's
// libp2p.DefaultSecurity option, directly against the underlying
// handshake library rather than through the libp2p wrapper. It exists
// as a reference for what NewHost's noise transport is actually doing
// on the wire, not as a test of weave's own code.
func TestNoiseHandshakeXX(t *testing.T) {
	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

	initKeypair, err := cs.GenerateKeypair(nil)
	if err != nil {
		t.Fatalf("generating initiator keypair: %v", err)
	}
	respKeypair, err := cs.GenerateKeypair(nil)
	if err != nil {
		t.Fatalf("generating responder keypair: %v", err)
	}

	initiator, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cs,
		Pattern:       noise.HandshakeXX,
		Initiator:     true,
		StaticKeypair: initKeypair,
	})
	if err != nil {
		t.Fatalf("initiator handshake state: %v", err)
	}
	responder, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cs,
		Pattern:       noise.HandshakeXX,
		Initiator:     false,
		StaticKeypair: respKeypair,
	})
	if err != nil {
		t.Fatalf("responder handshake state: %v", err)
	}

	msg1, _, _, err := initiator.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("write msg1: %v", err)
	}
	if _, _, _, err := responder.ReadMessage(nil, msg1); err != nil {
		t.Fatalf("read msg1: %v", err)
	}

	msg2, _, _, err := responder.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("write msg2: %v", err)
	}
	if _, _, _, err := initiator.ReadMessage(nil, msg2); err != nil {
		t.Fatalf("read msg2: %v", err)
	}

	msg3, initEnc, initDec, err := initiator.WriteMessage(nil, []byte("weave"))
	if err != nil {
		t.Fatalf("write msg3: %v", err)
	}
	payload, respDec, respEnc, err := responder.ReadMessage(nil, msg3)
	if err != nil {
		t.Fatalf("read msg3: %v", err)
	}
	if !bytes.Equal(payload, []byte("weave")) {
		t.Fatalf("handshake payload mismatch: got %q", payload)
	}

	ciphertext, err := initEnc.Encrypt(nil, nil, []byte("gossip"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plaintext, err := respDec.Decrypt(nil, nil, ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(plaintext, []byte("gossip")) {
		t.Fatalf("transport payload mismatch: got %q", plaintext)
	}
	_ = respEnc
	_ = initDec
}
