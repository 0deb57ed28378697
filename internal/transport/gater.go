package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/policy"
)

// BlockGater implements libp2p's ConnectionGater, inverted from the
// teacher's allow-list model to weave's block-list model (spec.md
// §4.1's "per-peer block-lists"): every peer is admitted except one
// the policy store has blocked, or one currently placed under a
// transient quarantine through Quarantine.
type BlockGater struct {
	pol *policy.Store

	mu         sync.RWMutex
	quarantine map[peer.ID]time.Time // peer -> quarantined until
}

// NewBlockGater constructs a BlockGater backed by pol.
func NewBlockGater(pol *policy.Store) *BlockGater {
	return &BlockGater{pol: pol, quarantine: make(map[peer.ID]time.Time)}
}

// Quarantine denies p new inbound connections until until, independent
// of the persistent policy block-list. Nothing in weave calls it; the
// service's own quarantine is the address book's blocked_until time.
func (g *BlockGater) Quarantine(p peer.ID, until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quarantine[p] = until
}

func (g *BlockGater) quarantined(p peer.ID) bool {
	g.mu.RLock()
	until, ok := g.quarantine[p]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(until) {
		g.mu.Lock()
		delete(g.quarantine, p)
		g.mu.Unlock()
		return false
	}
	return true
}

func (g *BlockGater) blocked(p peer.ID) bool {
	node, err := NodeIdFor(p)
	if err != nil {
		return false
	}
	return g.blockedNode(node)
}

func (g *BlockGater) blockedNode(node nodeid.NodeId) bool {
	blocked, err := g.pol.IsBlocked(node)
	if err != nil {
		return false
	}
	return blocked
}

// InterceptPeerDial always allows outbound dials: block-lists only
// restrict who can connect to us, not who we connect to, matching the
// teacher's gater's stance on DHT/relay traffic.
func (g *BlockGater) InterceptPeerDial(p peer.ID) bool { return true }

func (g *BlockGater) InterceptAddrDial(p peer.ID, a multiaddr.Multiaddr) bool { return true }

// InterceptAccept allows every inbound connection attempt through to
// the crypto handshake; the peer ID isn't known yet at this stage.
func (g *BlockGater) InterceptAccept(c network.ConnMultiaddrs) bool { return true }

// InterceptSecured is the primary check: once the peer ID is verified
// by the noise handshake, deny inbound connections from blocked or
// quarantined peers.
func (g *BlockGater) InterceptSecured(dir network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	if dir != network.DirInbound {
		return true
	}
	if g.quarantined(p) {
		slog.Warn("inbound connection denied (quarantined)", "peer", p)
		return false
	}
	if g.blocked(p) {
		slog.Warn("inbound connection denied (blocked)", "peer", p)
		return false
	}
	return true
}

func (g *BlockGater) InterceptUpgraded(c network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}
