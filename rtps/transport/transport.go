// Package transport implements the UDP reference Transport: the network
// boundary between a locator-addressed send/receive interface and a real
// socket, including multicast group membership for SPDP metatraffic.
package transport

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/rtpsmesh/rtpsd/rtps/locator"
	"github.com/rtpsmesh/rtpsd/rtps/rtpserrors"
)

// Transport is the boundary a Writer/Reader's sends and a receiver
// thread's reads cross to reach the network. Locators name endpoints;
// Transport implementations translate them to and from real sockets.
type Transport interface {
	// Send writes data as a single datagram to dst.
	Send(dst locator.Locator, data []byte) error
	// Receive blocks until one datagram arrives, returning its payload
	// (sized to buf) and the locator it came from.
	Receive(buf []byte) (n int, from locator.Locator, err error)
	// LocalLocator reports the locator this transport is bound to.
	LocalLocator() locator.Locator
	Close() error
}

// UDPTransport is the default Transport, backed by a single UDP socket.
// When constructed for a multicast group it additionally joins that group
// on every up, multicast-capable interface so Receive picks up SPDP
// announcements.
type UDPTransport struct {
	conn  *net.UDPConn
	local locator.Locator
}

// ListenUnicast opens a UDP socket bound to port on every local address
// (0.0.0.0) for the given locator kind (UDPv4 or UDPv6).
func ListenUnicast(kind locator.Kind, port uint32) (*UDPTransport, error) {
	network := "udp4"
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	if kind == locator.KindUDPv6 {
		network = "udp6"
		addr = &net.UDPAddr{IP: net.IPv6zero, Port: int(port)}
	}
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, rtpserrors.Wrap(rtpserrors.TransportError, "listen unicast", err)
	}
	return newFromConn(conn, kind, port)
}

// ListenMulticast opens a UDP socket bound to port and joins group on
// every available multicast-capable interface, for receiving SPDP/SEDP
// metatraffic.
func ListenMulticast(kind locator.Kind, group net.IP, port uint32) (*UDPTransport, error) {
	network := "udp4"
	if kind == locator.KindUDPv6 {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, rtpserrors.Wrap(rtpserrors.TransportError, "listen multicast", err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, rtpserrors.Wrap(rtpserrors.TransportError, "enumerate interfaces", err)
	}

	joined := false
	if kind == locator.KindUDPv6 {
		pc := ipv6.NewPacketConn(conn)
		for _, iface := range ifaces {
			if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
				continue
			}
			if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: group}); err == nil {
				joined = true
			}
		}
	} else {
		pc := ipv4.NewPacketConn(conn)
		for _, iface := range ifaces {
			if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
				continue
			}
			if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: group}); err == nil {
				joined = true
			}
		}
	}
	if !joined {
		conn.Close()
		return nil, rtpserrors.New(rtpserrors.TransportError, "no interface accepted the multicast group join")
	}

	return newFromConn(conn, kind, port)
}

func newFromConn(conn *net.UDPConn, kind locator.Kind, port uint32) (*UDPTransport, error) {
	t := &UDPTransport{conn: conn}
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		port = uint32(a.Port)
	}
	var loc locator.Locator
	var err error
	if kind == locator.KindUDPv6 {
		loc, err = locator.UDPv6(net.IPv6zero, port)
	} else {
		loc, err = locator.UDPv4(net.IPv4zero, port)
	}
	if err != nil {
		conn.Close()
		return nil, rtpserrors.Wrap(rtpserrors.TransportError, "build local locator", err)
	}
	t.local = loc
	return t, nil
}

// Send writes data to dst in a single UDP datagram.
func (t *UDPTransport) Send(dst locator.Locator, data []byte) error {
	addr := &net.UDPAddr{IP: dst.IP(), Port: int(dst.Port)}
	_, err := t.conn.WriteToUDP(data, addr)
	if err != nil {
		return rtpserrors.Wrap(rtpserrors.TransportError, "udp send", err)
	}
	return nil
}

// Receive reads one datagram into buf.
func (t *UDPTransport) Receive(buf []byte) (int, locator.Locator, error) {
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, locator.Locator{}, rtpserrors.Wrap(rtpserrors.TransportError, "udp receive", err)
	}
	kind := locator.KindUDPv4
	if addr.IP.To4() == nil {
		kind = locator.KindUDPv6
	}
	from := locator.Locator{Kind: kind, Port: uint32(addr.Port)}
	copy(from.Address[:], addr.IP.To16())
	return n, from, nil
}

// LocalLocator reports the locator this transport is bound to.
func (t *UDPTransport) LocalLocator() locator.Locator { return t.local }

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
