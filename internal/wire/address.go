package wire

import (
	"fmt"
	"io"
	"net"
)

// AddressType tags the variant of a wire-encoded Address.
type AddressType uint8

const (
	AddressTypeIPv4 AddressType = 1
	AddressTypeIPv6 AddressType = 2
	AddressTypeDNS  AddressType = 3
	AddressTypeOnion AddressType = 4
)

func (t AddressType) String() string {
	switch t {
	case AddressTypeIPv4:
		return "ipv4"
	case AddressTypeIPv6:
		return "ipv6"
	case AddressTypeDNS:
		return "dns"
	case AddressTypeOnion:
		return "onion"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Address is a tagged union over the ways a node's listening socket can
// be reached: a raw IPv4/IPv6 address, a DNS hostname, or a Tor onion
// service address. Exactly one of IP or Host is meaningful, selected by
// Type.
type Address struct {
	Type AddressType
	IP   net.IP // set when Type is IPv4 or IPv6
	Host string // set when Type is DNS or Onion
	Port uint16
}

// NewIPAddress builds an Address from a net.IP, choosing IPv4 or IPv6
// based on the address's natural form.
func NewIPAddress(ip net.IP, port uint16) (Address, error) {
	if v4 := ip.To4(); v4 != nil {
		return Address{Type: AddressTypeIPv4, IP: v4, Port: port}, nil
	}
	if v6 := ip.To16(); v6 != nil {
		return Address{Type: AddressTypeIPv6, IP: v6, Port: port}, nil
	}
	return Address{}, fmt.Errorf("wire: not a valid IP address: %v", ip)
}

// NewHostAddress builds a DNS or onion Address.
func NewHostAddress(typ AddressType, host string, port uint16) (Address, error) {
	if typ != AddressTypeDNS && typ != AddressTypeOnion {
		return Address{}, fmt.Errorf("wire: %w: %s", ErrUnknownAddrType, typ)
	}
	return Address{Type: typ, Host: host, Port: port}, nil
}

func (a Address) Encode(w io.Writer) (int, error) {
	n, err := PutUint8(w, uint8(a.Type))
	if err != nil {
		return n, err
	}
	var m int
	switch a.Type {
	case AddressTypeIPv4:
		m, err = PutBytes(w, a.IP.To4())
	case AddressTypeIPv6:
		m, err = PutBytes(w, a.IP.To16())
	case AddressTypeDNS, AddressTypeOnion:
		m, err = PutString(w, a.Host)
	default:
		return n, fmt.Errorf("wire: %w: %d", ErrUnknownAddrType, a.Type)
	}
	n += m
	if err != nil {
		return n, err
	}
	p, err := PutUint16(w, a.Port)
	return n + p, err
}

func (a *Address) Decode(r io.Reader) error {
	t, err := ReadUint8(r)
	if err != nil {
		return err
	}
	a.Type = AddressType(t)
	switch a.Type {
	case AddressTypeIPv4:
		buf := make([]byte, net.IPv4len)
		if err := ReadBytes(r, buf); err != nil {
			return err
		}
		a.IP = net.IP(buf)
	case AddressTypeIPv6:
		buf := make([]byte, net.IPv6len)
		if err := ReadBytes(r, buf); err != nil {
			return err
		}
		a.IP = net.IP(buf)
	case AddressTypeDNS, AddressTypeOnion:
		host, err := ReadString(r)
		if err != nil {
			return err
		}
		a.Host = host
	default:
		return fmt.Errorf("wire: %w: %d", ErrUnknownAddrType, a.Type)
	}
	port, err := ReadUint16(r)
	if err != nil {
		return err
	}
	a.Port = port
	return nil
}

// ParseAddress parses a "host:port" string into an Address, used to
// turn operator-supplied connect targets (CLI flags, config's connect
// list, the daemon API's POST /v1/connect) into the wire form. The host
// component is treated as a literal IP when it parses as one, and as a
// DNS hostname otherwise; onion addresses must be constructed via
// NewHostAddress directly since ".onion" hosts don't parse as IPs but
// aren't plain DNS either.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("wire: parsing address %q: %w", s, err)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Address{}, fmt.Errorf("wire: parsing port in %q: %w", s, err)
	}
	if ip := net.ParseIP(host); ip != nil {
		return NewIPAddress(ip, port)
	}
	return NewHostAddress(AddressTypeDNS, host, port)
}

func (a Address) String() string {
	switch a.Type {
	case AddressTypeIPv4, AddressTypeIPv6:
		return net.JoinHostPort(a.IP.String(), fmt.Sprint(a.Port))
	default:
		return net.JoinHostPort(a.Host, fmt.Sprint(a.Port))
	}
}
