package identity

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"runtime"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weavenet/weave/internal/nodeid"
)

// CheckKeyFilePermissions verifies that a key file is not readable by group or others.
func CheckKeyFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil // Windows file permissions work differently
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat key file %s: %w", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("key file %s has insecure permissions %04o (expected 0600); fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadOrCreateIdentity loads an existing identity from a file or creates a new one.
func LoadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	// Try to load existing key
	if data, err := os.ReadFile(path); err == nil {
		// Check permissions before using the key
		if err := CheckKeyFilePermissions(path); err != nil {
			return nil, err
		}
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal key from %s: %w", path, err)
		}
		return priv, nil
	}

	// Generate new key
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	// Marshal and save
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to save key to %s: %w", path, err)
	}

	return priv, nil
}

// NodeSigner derives this node's gossip/sigrefs signing identity from
// the same Ed25519 key material backing its libp2p host identity, so
// a node's transport peer ID and its protocol-level NodeId are always
// two views of one keypair.
func NodeSigner(priv crypto.PrivKey) (nodeid.Signer, error) {
	if priv.Type() != crypto.Ed25519 {
		return nil, fmt.Errorf("identity: node key must be Ed25519, got %s", priv.Type())
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("identity: extracting raw key: %w", err)
	}
	var seed [ed25519.SeedSize]byte
	copy(seed[:], ed25519.PrivateKey(raw).Seed())
	return nodeid.SignerFromSeed(seed), nil
}

// PeerIDFromKeyFile loads (or creates) a key file and returns the derived peer ID.
func PeerIDFromKeyFile(path string) (peer.ID, error) {
	priv, err := LoadOrCreateIdentity(path)
	if err != nil {
		return "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("failed to derive peer ID: %w", err)
	}
	return id, nil
}
