package querier

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/joshuafuller/scout/internal/errors"
	"github.com/joshuafuller/scout/internal/message"
	"github.com/joshuafuller/scout/internal/netif"
	"github.com/joshuafuller/scout/internal/protocol"
	"github.com/joshuafuller/scout/internal/transport"
)

// Performer drives mDNS discovery and queries across the local network
// interfaces.
//
// A Performer owns one multicast socket per interface address, opened
// lazily on the first send for that interface, and a single scratch
// buffer reused for every encode and receive. Interfaces are identified
// by their printable address ("192.168.1.4"); the interface table is
// captured once at construction.
//
// Receives are polled, never blocking: if no packet is pending,
// DiscoveryReceive and QueryReceive return an empty Reply immediately.
// A caller wanting "ten replies over ten seconds" loops with its own
// sleep:
//
//	p, err := querier.New()
//	if err != nil {
//	    return err
//	}
//	defer p.CloseAll()
//
//	for _, iface := range p.ListIPv4Interfaces() {
//	    if err := p.DiscoverySend(iface); err != nil {
//	        continue
//	    }
//	    for i := 0; i < 10; i++ {
//	        reply := p.DiscoveryReceive(iface)
//	        for _, ptr := range reply.Answer.PTR {
//	            fmt.Println(ptr.Name)
//	        }
//	        time.Sleep(time.Second)
//	    }
//	}
//
// A Performer is not safe for concurrent use: the scratch buffer is
// shared across calls. Independent Performers are fully isolated,
// including their transaction ID counters.
type Performer struct {
	provider netif.Provider
	ipv4     map[string]netif.Address
	ipv6     map[string]netif.Address
	sockets  map[string]transport.Conn

	buf       []byte
	parseOpts message.ParseOptions
	cfg       transport.Config
	logger    *zap.Logger

	// transactionID is the per-performer query counter (RFC 1035
	// header ID). Incremented before each query send; receives match
	// against the last sent value. Wrapping at 0xFFFF is fine for
	// uniqueness within a send window.
	transactionID uint16

	// Socket constructors, replaceable by tests.
	openIPv4 func(addr netif.Address, cfg transport.Config) (transport.Conn, error)
	openIPv6 func(addr netif.Address, cfg transport.Config) (transport.Conn, error)
}

// New constructs a Performer and captures the local interface table for
// both address families. No sockets are opened until the first send.
func New(opts ...Option) (*Performer, error) {
	p := &Performer{
		provider: netif.System(),
		sockets:  make(map[string]transport.Conn),
		buf:      make([]byte, protocol.DefaultBufferCapacity),
		logger:   zap.NewNop(),
		openIPv4: func(addr netif.Address, cfg transport.Config) (transport.Conn, error) {
			return transport.OpenIPv4(addr.IP, addr.Interface, cfg)
		},
		openIPv6: func(addr netif.Address, cfg transport.Config) (transport.Conn, error) {
			return transport.OpenIPv6(addr.IP, addr.Zone, addr.Interface, cfg)
		},
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.cfg.Logger = p.logger

	if err := p.loadInterfaces(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Performer) loadInterfaces() error {
	v4, err := p.provider.IPv4()
	if err != nil {
		return err
	}
	v6, err := p.provider.IPv6()
	if err != nil {
		return err
	}
	p.ipv4 = make(map[string]netif.Address, len(v4))
	for _, a := range v4 {
		p.ipv4[a.Printable] = a
	}
	p.ipv6 = make(map[string]netif.Address, len(v6))
	for _, a := range v6 {
		p.ipv6[a.Printable] = a
	}
	p.logger.Debug("captured interface table",
		zap.Int("ipv4", len(p.ipv4)), zap.Int("ipv6", len(p.ipv6)))
	return nil
}

// ListIPv4Interfaces returns the printable IPv4 interface addresses the
// Performer knows, sorted for stable iteration.
func (p *Performer) ListIPv4Interfaces() []string {
	return sortedKeys(p.ipv4)
}

// ListIPv6Interfaces returns the printable IPv6 interface addresses the
// Performer knows, sorted for stable iteration.
func (p *Performer) ListIPv6Interfaces() []string {
	return sortedKeys(p.ipv6)
}

func sortedKeys(m map[string]netif.Address) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OpenSocket ensures a socket is open for the interface address. Opening
// an already-open interface is a no-op returning nil; the socket map
// holds at most one socket per interface address.
func (p *Performer) OpenSocket(iface string) error {
	if _, open := p.sockets[iface]; open {
		return nil
	}

	var (
		conn transport.Conn
		err  error
	)
	if addr, ok := p.ipv4[iface]; ok {
		conn, err = p.openIPv4(addr, p.cfg)
	} else if addr, ok := p.ipv6[iface]; ok {
		conn, err = p.openIPv6(addr, p.cfg)
	} else {
		err = &errors.NetworkError{
			Operation: "create socket",
			Err:       fmt.Errorf("unknown interface address %q", iface),
			Details:   "address is not in the performer's interface table",
		}
	}
	if err != nil {
		return withStatus(StatusErrorOpeningSocket, err)
	}
	p.sockets[iface] = conn
	return nil
}

// DiscoverySend multicasts the DNS-SD service enumeration query
// (RFC 6763 §9) on the interface, opening its socket if needed.
func (p *Performer) DiscoverySend(iface string) error {
	if err := p.OpenSocket(iface); err != nil {
		return err
	}
	n, err := message.BuildDiscoveryQuery(p.buf)
	if err != nil {
		return withStatus(StatusErrorSendingDiscovery, err)
	}
	if err := p.sockets[iface].Send(p.buf[:n]); err != nil {
		return withStatus(StatusErrorSendingDiscovery, err)
	}
	return nil
}

// DiscoveryReceive polls the interface's socket for one discovery
// reply.
//
// The result is an empty Reply when no packet is pending, when the
// interface has no open socket, or when the packet is not an
// authoritative response to the service enumeration question
// (RFC 6762 §6 validation: transaction ID zero, flags QR|AA, question
// echo matching). The sender address is populated whenever a packet was
// read, matching or not.
func (p *Performer) DiscoveryReceive(iface string) Reply {
	conn, ok := p.sockets[iface]
	if !ok {
		return Reply{}
	}
	n, src, err := conn.Receive(p.buf)
	if err != nil || n <= 0 {
		return Reply{}
	}
	sections, ok := message.ParseDiscoveryReply(p.buf[:n], p.parseOpts)
	if !ok {
		p.logger.Debug("dropped packet: not a discovery reply",
			zap.String("interface", iface), zap.Int("bytes", n))
		return newReply(message.Sections{}, src)
	}
	return newReply(sections, src)
}

// QuerySend multicasts a one-shot query for (name, rtype) on the
// interface, opening its socket if needed. The QU bit is set, asking
// responders to reply unicast to this socket (RFC 6762 §5.4).
//
// Each send advances the performer's transaction ID; QueryReceive
// accepts only replies bearing the most recently sent ID.
func (p *Performer) QuerySend(iface string, rtype RecordType, name string) error {
	if err := p.OpenSocket(iface); err != nil {
		return err
	}
	p.transactionID++
	n, err := message.BuildQuery(p.buf, p.transactionID, protocol.RecordType(rtype), name)
	if err != nil {
		return withStatus(StatusErrorSendingQuery, err)
	}
	if err := p.sockets[iface].Send(p.buf[:n]); err != nil {
		return withStatus(StatusErrorSendingQuery, err)
	}
	return nil
}

// QueryReceive polls the interface's socket for one reply to the last
// query sent by this Performer. A reply whose transaction ID does not
// match the last send parses to an empty Reply; response flags are not
// validated (responders differ in what they echo for one-shot queries).
func (p *Performer) QueryReceive(iface string) Reply {
	conn, ok := p.sockets[iface]
	if !ok {
		return Reply{}
	}
	n, src, err := conn.Receive(p.buf)
	if err != nil || n <= 0 {
		return Reply{}
	}
	sections, ok := message.ParseQueryReply(p.buf[:n], p.transactionID, p.parseOpts)
	if !ok {
		p.logger.Debug("dropped packet: not a reply to our query",
			zap.String("interface", iface), zap.Int("bytes", n))
		return newReply(message.Sections{}, src)
	}
	return newReply(sections, src)
}

// CloseSocket closes the interface's socket if one is open. Closing an
// interface with no socket is a no-op.
func (p *Performer) CloseSocket(iface string) error {
	conn, ok := p.sockets[iface]
	if !ok {
		return nil
	}
	delete(p.sockets, iface)
	return conn.Close()
}

// CloseAll closes every open socket, continuing past individual close
// failures and returning them combined.
func (p *Performer) CloseAll() error {
	var err error
	for iface, conn := range p.sockets {
		err = multierr.Append(err, conn.Close())
		delete(p.sockets, iface)
	}
	return err
}
