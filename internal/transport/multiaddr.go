package transport

import (
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/weavenet/weave/internal/wire"
)

// MultiaddrFor renders a wire.Address as a dialable multiaddr. Onion
// addresses are rendered as dns4-style host components so they route
// through a configured SOCKS/Tor dialer at the transport layer; weave
// never resolves them directly.
func MultiaddrFor(a wire.Address) (ma.Multiaddr, error) {
	switch a.Type {
	case wire.AddressTypeIPv4:
		return ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", a.IP.String(), a.Port))
	case wire.AddressTypeIPv6:
		return ma.NewMultiaddr(fmt.Sprintf("/ip6/%s/tcp/%d", a.IP.String(), a.Port))
	case wire.AddressTypeDNS:
		return ma.NewMultiaddr(fmt.Sprintf("/dns4/%s/tcp/%d", a.Host, a.Port))
	case wire.AddressTypeOnion:
		return ma.NewMultiaddr(fmt.Sprintf("/dns4/%s/tcp/%d", a.Host, a.Port))
	default:
		return nil, fmt.Errorf("transport: %w: %d", errUnknownAddrType, a.Type)
	}
}

var errUnknownAddrType = fmt.Errorf("unknown address type")

// AddressFor converts a resolved libp2p multiaddr's IP+port components
// back to a wire.Address, for recording a peer's observed address in
// the address book.
func AddressFor(m ma.Multiaddr) (wire.Address, error) {
	var ip net.IP
	var port uint16
	var host string
	var isHost bool

	ma.ForEach(m, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_IP4, ma.P_IP6:
			ip = net.ParseIP(c.Value())
		case ma.P_DNS, ma.P_DNS4, ma.P_DNS6:
			host = c.Value()
			isHost = true
		case ma.P_TCP, ma.P_UDP:
			var p int
			fmt.Sscanf(c.Value(), "%d", &p)
			port = uint16(p)
		}
		return true
	})

	if isHost {
		return wire.NewHostAddress(wire.AddressTypeDNS, host, port)
	}
	if ip != nil {
		return wire.NewIPAddress(ip, port)
	}
	return wire.Address{}, fmt.Errorf("transport: multiaddr %s has no recognizable address component", m)
}
