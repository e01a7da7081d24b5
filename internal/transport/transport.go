// Package transport provides the per-interface UDP multicast sockets the
// querier sends and receives on.
//
// One socket is opened per local interface address, bound to an
// OS-assigned source port, with the mDNS multicast group joined on that
// interface (RFC 6762 §3). Sockets are polled: Receive applies a
// one-millisecond (or configured) read deadline, so a call with no
// pending packet returns "no data" instead of blocking.
package transport

import (
	"net"
	"time"

	"go.uber.org/zap"
)

// Conn is one open mDNS socket. Implementations are the IPv4 and IPv6
// multicast connections in this package plus test doubles in the querier
// package.
type Conn interface {
	// Send transmits one packet to the mDNS multicast group of the
	// connection's address family, returning a NetworkError on failure.
	Send(pkt []byte) error

	// Receive reads one pending packet into buf, returning the byte
	// count and sender address. When no packet is queued it returns
	// (0, nil, nil); the caller treats that as an empty reply and
	// decides whether to poll again.
	Receive(buf []byte) (int, *net.UDPAddr, error)

	// Close releases the socket.
	Close() error
}

// Config adjusts socket behavior. The zero value is valid: polling
// receives that wait at most a millisecond, and no logging.
type Config struct {
	// ReceiveTimeout bounds how long Receive waits for a packet. Zero
	// keeps the polling behavior: a receive with nothing queued
	// returns after at most a millisecond.
	ReceiveTimeout time.Duration

	// Logger receives debug-level socket lifecycle and I/O events.
	// Nil disables logging.
	Logger *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
