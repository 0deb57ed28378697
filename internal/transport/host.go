package transport

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"

	"github.com/weavenet/weave/internal/identity"
)

// GossipProtocol carries the gossip/session wire.Message stream
// between two already-noise-authenticated peers.
const GossipProtocol = "/weave/gossip/1.0.0"

// FetchProtocol carries the staged fetch protocol's control messages
// and packfile transfers.
const FetchProtocol = "/weave/fetch/1.0.0"

// HostConfig configures the libp2p host a Node runs on.
type HostConfig struct {
	KeyFile          string
	ListenAddrs      []string
	EnableNATPortMap bool
	EnableRelay      bool
	EnableHolePunch  bool
	Gater            connmgr.ConnectionGater
}

// NewHost constructs the libp2p host weave's transport runs on: TCP
// and QUIC transports, the standard libp2p Noise security transport
// (the same handshake github.com/flynn/noise implements), and the
// node's own Ed25519 key loaded from KeyFile.
func NewHost(cfg HostConfig) (host.Host, crypto.PrivKey, error) {
	priv, err := identity.LoadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: loading identity: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.DefaultSecurity, // noise, via go-libp2p's security/noise
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}
	if cfg.EnableNATPortMap {
		opts = append(opts, libp2p.NATPortMap())
	}
	if cfg.EnableHolePunch {
		opts = append(opts, libp2p.EnableHolePunching())
	}
	if cfg.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	if cfg.Gater != nil {
		opts = append(opts, libp2p.ConnectionGater(cfg.Gater))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: creating libp2p host: %w", err)
	}
	return h, priv, nil
}
