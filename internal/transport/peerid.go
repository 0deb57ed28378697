// Package transport wires the gossip/session service and the staged
// fetch protocol onto a real libp2p host: stream handlers, peer
// discovery, and the single-threaded event loop that drives
// internal/service.
package transport

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/weavenet/weave/internal/nodeid"
)

// PeerIDFor derives the libp2p peer ID a NodeId corresponds to: both
// are views of the same Ed25519 public key, so this is a pure format
// conversion, not a lookup.
func PeerIDFor(id nodeid.NodeId) (peer.ID, error) {
	pub, err := crypto.UnmarshalEd25519PublicKey(id.Bytes())
	if err != nil {
		return "", fmt.Errorf("transport: unmarshal node key: %w", err)
	}
	return peer.IDFromPublicKey(pub)
}

// NodeIdFor recovers the NodeId backing a connected peer.ID.
func NodeIdFor(p peer.ID) (nodeid.NodeId, error) {
	pub, err := p.ExtractPublicKey()
	if err != nil {
		return nodeid.NodeId{}, fmt.Errorf("transport: peer id %s does not embed an Ed25519 key: %w", p, err)
	}
	raw, err := pub.Raw()
	if err != nil {
		return nodeid.NodeId{}, err
	}
	return nodeid.NodeIdFromBytes(raw)
}
