package transport

import (
	"context"
	"fmt"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"

	"github.com/weavenet/weave/internal/wire"
)

// mdnsService is the zeroconf service type weave nodes register
// themselves under for LAN discovery.
const mdnsService = "_weave._tcp"

// Discovery wraps a Kademlia DHT client for looking up a peer's
// addresses (FindPeer); AdvertiseLAN and DiscoverLAN do the same over
// mDNS. Connection selection (spec.md §4.1) does not call any of them.
type Discovery struct {
	DHT *dht.IpfsDHT
}

// NewDiscovery bootstraps a Kademlia DHT client in client mode over h
// (weave nodes do not serve DHT records for others, only consume
// them) and dials the default IPFS bootstrap peers, mirroring the
// bootstrap sequence the teacher's client-node performs.
func NewDiscovery(ctx context.Context, h host.Host) (*Discovery, error) {
	kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeClient))
	if err != nil {
		return nil, fmt.Errorf("transport: creating dht: %w", err)
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("transport: bootstrapping dht: %w", err)
	}
	for _, pi := range dht.DefaultBootstrapPeers {
		ai, err := peer.AddrInfoFromP2pAddr(pi)
		if err != nil {
			continue
		}
		go func(ai peer.AddrInfo) {
			dialCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			defer cancel()
			_ = h.Connect(dialCtx, ai)
		}(*ai)
	}
	return &Discovery{DHT: kdht}, nil
}

// FindPeer asks the DHT for a peer's currently known addresses.
func (d *Discovery) FindPeer(ctx context.Context, p peer.ID) (wire.Address, bool) {
	info, err := d.DHT.FindPeer(ctx, p)
	if err != nil || len(info.Addrs) == 0 {
		return wire.Address{}, false
	}
	addr, err := AddressFor(info.Addrs[0])
	if err != nil {
		return wire.Address{}, false
	}
	return addr, true
}

// AdvertiseLAN registers this node on the local network via mDNS so
// nearby nodes can discover it without a DHT round trip.
func AdvertiseLAN(ctx context.Context, h host.Host, port int) (func(), error) {
	server, err := zeroconf.Register(h.ID().String(), mdnsService, "local.", port, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: registering mdns service: %w", err)
	}
	return server.Shutdown, nil
}

// DiscoverLAN browses for other weave nodes advertised via mDNS for
// the duration of ctx, reporting each one found.
func DiscoverLAN(ctx context.Context, found func(peer.ID, wire.Address)) error {
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for e := range entries {
			pid, err := peer.Decode(e.Instance)
			if err != nil || len(e.AddrIPv4) == 0 {
				continue
			}
			addr, err := wire.NewIPAddress(e.AddrIPv4[0], uint16(e.Port))
			if err != nil {
				continue
			}
			found(pid, addr)
		}
	}()
	return zeroconf.Browse(ctx, mdnsService, "local.", entries)
}
