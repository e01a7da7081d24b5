package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/joshuafuller/scout/internal/errors"
	"github.com/joshuafuller/scout/internal/protocol"
)

// UDPConn is an open mDNS multicast socket bound to one local interface
// address. It implements Conn for both address families; the family is
// fixed at open time and determines the multicast destination.
type UDPConn struct {
	conn    *net.UDPConn
	dest    *net.UDPAddr
	cfg     Config
	logger  *zap.Logger
	localIP string
}

// OpenIPv4 opens an mDNS socket on the IPv4 interface address ip.
//
// RFC 6762 §3: mDNS queries go to 224.0.0.251:5353. The socket binds to
// (ip, port 0) — a dedicated per-interface socket with an OS-assigned
// source port, so the shared port 5353 is never contended — and joins
// the group on iface (nil joins on the system default interface).
//
// Multicast TTL is 1 to keep queries on the local link, and multicast
// loopback is enabled so a responder on the same host (including the
// test suite) is reachable.
//
// Any setup failure closes the socket and returns a NetworkError.
func OpenIPv4(ip net.IP, iface *net.Interface, cfg Config) (*UDPConn, error) {
	conn, err := listen("udp4", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind to %s", ip),
		}
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.SetMulticastTTL(1); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "failed to set multicast TTL"}
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "failed to enable multicast loopback"}
	}

	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4)}
	if err := p.JoinGroup(iface, group); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{
			Operation: "join multicast group",
			Err:       err,
			Details:   fmt.Sprintf("failed to join %s on %s", protocol.MulticastAddrIPv4, ip),
		}
	}
	if iface != nil {
		// Route outgoing multicast through the bound interface rather
		// than the default route.
		if err := p.SetMulticastInterface(iface); err != nil {
			cfg.logger().Debug("multicast interface not set, using default route",
				zap.String("interface", iface.Name), zap.Error(err))
		}
	}

	c := &UDPConn{
		conn:    conn,
		dest:    &net.UDPAddr{IP: group.IP, Port: protocol.Port},
		cfg:     cfg,
		logger:  cfg.logger(),
		localIP: ip.String(),
	}
	c.logger.Debug("opened IPv4 mDNS socket",
		zap.String("interface", c.localIP),
		zap.String("local", conn.LocalAddr().String()))
	return c, nil
}

// OpenIPv6 opens an mDNS socket on the IPv6 interface address ip,
// joining ff02::fb with a hop limit of 1 (RFC 6762 §3). zone is the
// scope zone for link-local addresses, empty otherwise.
func OpenIPv6(ip net.IP, zone string, iface *net.Interface, cfg Config) (*UDPConn, error) {
	conn, err := listen("udp6", &net.UDPAddr{IP: ip, Zone: zone})
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind to %s", ip),
		}
	}

	p := ipv6.NewPacketConn(conn)
	if err := p.SetMulticastHopLimit(1); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "failed to set multicast hop limit"}
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{Operation: "configure socket", Err: err, Details: "failed to enable multicast loopback"}
	}

	group := &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6)}
	if err := p.JoinGroup(iface, group); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{
			Operation: "join multicast group",
			Err:       err,
			Details:   fmt.Sprintf("failed to join %s on %s", protocol.MulticastAddrIPv6, ip),
		}
	}
	if iface != nil {
		if err := p.SetMulticastInterface(iface); err != nil {
			cfg.logger().Debug("multicast interface not set, using default route",
				zap.String("interface", iface.Name), zap.Error(err))
		}
	}

	c := &UDPConn{
		conn:    conn,
		dest:    &net.UDPAddr{IP: group.IP, Port: protocol.Port, Zone: zone},
		cfg:     cfg,
		logger:  cfg.logger(),
		localIP: ip.String(),
	}
	c.logger.Debug("opened IPv6 mDNS socket",
		zap.String("interface", c.localIP),
		zap.String("local", conn.LocalAddr().String()))
	return c, nil
}

// listen binds a UDP socket with SO_REUSEADDR applied, so a querier can
// coexist with an mDNS responder already running on the host.
func listen(network string, laddr *net.UDPAddr) (*net.UDPConn, error) {
	host := laddr.IP.String()
	if laddr.Zone != "" {
		host += "%" + laddr.Zone
	}
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), network, net.JoinHostPort(host, strconv.Itoa(laddr.Port)))
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

// Send transmits pkt to the connection's multicast destination.
func (c *UDPConn) Send(pkt []byte) error {
	n, err := c.conn.WriteToUDP(pkt, c.dest)
	if err != nil {
		return &errors.NetworkError{
			Operation: "send",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(pkt), c.dest),
		}
	}
	if n != len(pkt) {
		return &errors.NetworkError{
			Operation: "send",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(pkt)),
			Details:   "incomplete transmission",
		}
	}
	c.logger.Debug("sent mDNS packet",
		zap.String("interface", c.localIP),
		zap.Int("bytes", n),
		zap.String("to", c.dest.String()))
	return nil
}

// Receive reads one pending packet into buf.
//
// The read deadline is the configured receive timeout past now. A zero
// timeout is rounded up to one millisecond: an already-expired deadline
// would fail the read before the kernel is consulted, and a queued
// packet would never be delivered. A deadline expiry is not an error:
// it reports (0, nil, nil), the "no packet" result the querier maps to
// an empty reply.
func (c *UDPConn) Receive(buf []byte) (int, *net.UDPAddr, error) {
	timeout := c.cfg.ReceiveTimeout
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, &errors.NetworkError{Operation: "receive", Err: err, Details: "failed to arm read deadline"}
	}
	n, src, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, nil, nil
		}
		return 0, nil, &errors.NetworkError{Operation: "receive", Err: err, Details: "failed to read from socket"}
	}
	c.logger.Debug("received mDNS packet",
		zap.String("interface", c.localIP),
		zap.Int("bytes", n),
		zap.String("from", src.String()))
	return n, src, nil
}

// Close releases the socket. The multicast membership is dropped by the
// OS with the socket.
func (c *UDPConn) Close() error {
	if c.conn == nil {
		return nil
	}
	c.logger.Debug("closed mDNS socket", zap.String("interface", c.localIP))
	if err := c.conn.Close(); err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err, Details: "failed to close UDP connection"}
	}
	return nil
}

// LocalAddr returns the bound local address, including the OS-assigned
// source port.
func (c *UDPConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }
