package querier

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joshuafuller/scout/internal/netif"
	"github.com/joshuafuller/scout/internal/transport"
)

// mockConn is a Conn test double recording sends and serving a queue of
// canned incoming packets.
type mockConn struct {
	sent    [][]byte
	queue   []mockPacket
	sendErr error
	closed  bool
}

type mockPacket struct {
	data []byte
	src  *net.UDPAddr
}

func (m *mockConn) Send(pkt []byte) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, append([]byte(nil), pkt...))
	return nil
}

func (m *mockConn) Receive(buf []byte) (int, *net.UDPAddr, error) {
	if len(m.queue) == 0 {
		return 0, nil, nil
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	return copy(buf, next.data), next.src, nil
}

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

// newTestPerformer wires a Performer to a static single-interface table
// and a mock socket constructor, counting opens.
func newTestPerformer(t *testing.T, conn *mockConn) (*Performer, *int) {
	t.Helper()

	provider := netif.Static([]netif.Address{
		{Printable: "192.168.1.4", IP: net.IPv4(192, 168, 1, 4)},
	}, nil)

	p, err := New(WithInterfaceProvider(provider))
	require.NoError(t, err)

	opens := 0
	p.openIPv4 = func(addr netif.Address, cfg transport.Config) (transport.Conn, error) {
		opens++
		return conn, nil
	}
	return p, &opens
}

// qnameServices is the wire form of "_services._dns-sd._udp.local.".
var qnameServices = []byte{
	0x09, '_', 's', 'e', 'r', 'v', 'i', 'c', 'e', 's',
	0x07, '_', 'd', 'n', 's', '-', 's', 'd',
	0x04, '_', 'u', 'd', 'p',
	0x05, 'l', 'o', 'c', 'a', 'l',
	0x00,
}

// qnameHTTP is the wire form of "_http._tcp.local.".
var qnameHTTP = []byte{
	0x05, '_', 'h', 't', 't', 'p',
	0x04, '_', 't', 'c', 'p',
	0x05, 'l', 'o', 'c', 'a', 'l',
	0x00,
}

// discoveryReplyPacket is an authoritative reply to the enumeration
// question carrying one PTR answer for "_http._tcp.local.".
func discoveryReplyPacket() []byte {
	pkt := []byte{
		0x00, 0x00, // transaction ID 0
		0x84, 0x00, // QR|AA
		0x00, 0x01, // one question
		0x00, 0x01, // one answer
		0x00, 0x00,
		0x00, 0x00,
	}
	pkt = append(pkt, qnameServices...)
	pkt = append(pkt, 0x00, 0x0C, 0x00, 0x01) // PTR, IN
	pkt = append(pkt,
		0xC0, 0x0C, // owner: pointer to the question name
		0x00, 0x0C, // PTR
		0x00, 0x01, // IN
		0x00, 0x00, 0x00, 0x78, // TTL 120
		0x00, 0x12, // rdlength 18
	)
	return append(pkt, qnameHTTP...)
}

// queryReplyPacket is a reply with one PTR answer
// "web._http._tcp.local." under the given transaction ID.
func queryReplyPacket(transactionID uint16) []byte {
	pkt := []byte{
		byte(transactionID >> 8), byte(transactionID),
		0x84, 0x00,
		0x00, 0x00, // no question echo
		0x00, 0x01, // one answer
		0x00, 0x00,
		0x00, 0x00,
	}
	pkt = append(pkt, qnameHTTP...) // owner at offset 12
	pkt = append(pkt,
		0x00, 0x0C,
		0x00, 0x01,
		0x00, 0x00, 0x00, 0x78,
		0x00, 0x06, // rdlength 6
		0x03, 'w', 'e', 'b', 0xC0, 0x0C,
	)
	return pkt
}

var responder = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 9), Port: 5353}

// TestOpenSocket_Idempotent: two opens for the same interface produce
// one socket and succeed both times.
func TestOpenSocket_Idempotent(t *testing.T) {
	conn := &mockConn{}
	p, opens := newTestPerformer(t, conn)

	require.NoError(t, p.OpenSocket("192.168.1.4"))
	require.NoError(t, p.OpenSocket("192.168.1.4"))
	assert.Equal(t, 1, *opens, "second open must be a no-op")

	// Sends reuse the existing socket rather than opening another.
	require.NoError(t, p.DiscoverySend("192.168.1.4"))
	assert.Equal(t, 1, *opens)
}

func TestOpenSocket_UnknownInterface(t *testing.T) {
	conn := &mockConn{}
	p, _ := newTestPerformer(t, conn)

	err := p.OpenSocket("10.0.0.1")
	require.Error(t, err)
	assert.Equal(t, StatusErrorOpeningSocket, StatusOf(err))
}

func TestOpenSocket_Failure(t *testing.T) {
	p, _ := newTestPerformer(t, &mockConn{})
	p.openIPv4 = func(netif.Address, transport.Config) (transport.Conn, error) {
		return nil, fmt.Errorf("bind: address in use")
	}

	err := p.DiscoverySend("192.168.1.4")
	require.Error(t, err)
	assert.Equal(t, StatusErrorOpeningSocket, StatusOf(err))

	// The failed socket is not stored; a later open retries.
	assert.Empty(t, p.sockets)
}

// TestDiscoveryFlow drives a full discovery exchange against the mock:
// the send emits the canonical 46-byte packet, the receive surfaces the
// PTR answer with the sender address attached.
func TestDiscoveryFlow(t *testing.T) {
	conn := &mockConn{queue: []mockPacket{{data: discoveryReplyPacket(), src: responder}}}
	p, _ := newTestPerformer(t, conn)

	require.NoError(t, p.DiscoverySend("192.168.1.4"))
	require.Len(t, conn.sent, 1)
	assert.Len(t, conn.sent[0], 46, "discovery packet is exactly 46 bytes")
	assert.Equal(t, byte(0x80), conn.sent[0][44], "QU bit set in QCLASS")

	reply := p.DiscoveryReceive("192.168.1.4")
	require.Len(t, reply.Answer.PTR, 1)
	assert.Equal(t, "_http._tcp.local.", reply.Answer.PTR[0].Name)
	assert.Equal(t, "192.168.1.9", reply.FromAddress)
	assert.Equal(t, uint16(5353), reply.FromPort)

	// Queue drained: the next poll reports an empty reply.
	drained := p.DiscoveryReceive("192.168.1.4")
	assert.True(t, drained.Empty())
}

// TestQueryFlow drives a PTR query exchange, including transaction ID
// correlation across sends.
func TestQueryFlow(t *testing.T) {
	conn := &mockConn{}
	p, _ := newTestPerformer(t, conn)

	require.NoError(t, p.QuerySend("192.168.1.4", RecordTypePTR, "_http._tcp.local."))
	require.Len(t, conn.sent, 1)
	assert.Equal(t, []byte{0x00, 0x01}, conn.sent[0][:2], "first query carries transaction ID 1")

	conn.queue = []mockPacket{{data: queryReplyPacket(0x0001), src: responder}}
	reply := p.QueryReceive("192.168.1.4")
	require.Len(t, reply.Answer.PTR, 1)
	assert.Equal(t, "web._http._tcp.local.", reply.Answer.PTR[0].Name)
	assert.Equal(t, "192.168.1.9", reply.FromAddress)
}

// TestQueryReceive_StaleTransactionID: a reply to an earlier query is
// rejected once a newer query has been sent.
func TestQueryReceive_StaleTransactionID(t *testing.T) {
	conn := &mockConn{}
	p, _ := newTestPerformer(t, conn)

	require.NoError(t, p.QuerySend("192.168.1.4", RecordTypePTR, "_http._tcp.local."))
	require.NoError(t, p.QuerySend("192.168.1.4", RecordTypeSRV, "web._http._tcp.local."))

	// Reply to the first send (ID 1) arrives after the second (ID 2).
	conn.queue = []mockPacket{{data: queryReplyPacket(0x0001), src: responder}}
	reply := p.QueryReceive("192.168.1.4")
	assert.True(t, reply.Empty(), "stale reply must parse to nothing")
	assert.Equal(t, "192.168.1.9", reply.FromAddress, "sender still recorded")
}

// TestReceive_NoSocket: receiving on an interface that was never opened
// is an empty reply, not a fault.
func TestReceive_NoSocket(t *testing.T) {
	p, opens := newTestPerformer(t, &mockConn{})

	discReply := p.DiscoveryReceive("192.168.1.4")
	assert.True(t, discReply.Empty())
	queryReply := p.QueryReceive("192.168.1.4")
	assert.True(t, queryReply.Empty())
	assert.Equal(t, 0, *opens, "receive must not open sockets")
}

func TestSendFailureStatus(t *testing.T) {
	conn := &mockConn{sendErr: fmt.Errorf("sendto: network is unreachable")}
	p, _ := newTestPerformer(t, conn)

	err := p.DiscoverySend("192.168.1.4")
	require.Error(t, err)
	assert.Equal(t, StatusErrorSendingDiscovery, StatusOf(err))

	err = p.QuerySend("192.168.1.4", RecordTypePTR, "_http._tcp.local.")
	require.Error(t, err)
	assert.Equal(t, StatusErrorSendingQuery, StatusOf(err))

	// A query name longer than the 255-byte DNS name limit is a send
	// error before anything reaches the socket.
	p2, _ := newTestPerformer(t, &mockConn{})
	long := ""
	for i := 0; i < 40; i++ {
		long += "aaaaaa."
	}
	long += "local."
	err = p2.QuerySend("192.168.1.4", RecordTypePTR, long)
	require.Error(t, err)
	assert.Equal(t, StatusErrorSendingQuery, StatusOf(err))

	assert.Equal(t, StatusSuccess, StatusOf(nil))
	assert.Equal(t, StatusUnknownError, StatusOf(fmt.Errorf("something else")))
}

func TestCloseSocket(t *testing.T) {
	conn := &mockConn{}
	p, opens := newTestPerformer(t, conn)

	// Closing an interface with no socket is a no-op.
	require.NoError(t, p.CloseSocket("192.168.1.4"))

	require.NoError(t, p.OpenSocket("192.168.1.4"))
	require.NoError(t, p.CloseSocket("192.168.1.4"))
	assert.True(t, conn.closed)

	// Reopening after close creates a fresh socket.
	require.NoError(t, p.OpenSocket("192.168.1.4"))
	assert.Equal(t, 2, *opens)
}

func TestCloseAll(t *testing.T) {
	conn := &mockConn{}
	p, _ := newTestPerformer(t, conn)

	require.NoError(t, p.OpenSocket("192.168.1.4"))
	require.NoError(t, p.CloseAll())
	assert.True(t, conn.closed)
	assert.Empty(t, p.sockets)

	// Idempotent.
	require.NoError(t, p.CloseAll())
}

func TestListInterfaces(t *testing.T) {
	provider := netif.Static(
		[]netif.Address{
			{Printable: "192.168.1.4", IP: net.IPv4(192, 168, 1, 4)},
			{Printable: "10.0.0.2", IP: net.IPv4(10, 0, 0, 2)},
		},
		[]netif.Address{
			{Printable: "fe80::1", IP: net.ParseIP("fe80::1"), Zone: "eth0"},
		},
	)

	p, err := New(WithInterfaceProvider(provider))
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.2", "192.168.1.4"}, p.ListIPv4Interfaces())
	assert.Equal(t, []string{"fe80::1"}, p.ListIPv6Interfaces())
}

func TestOptions_Validation(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"nil provider", WithInterfaceProvider(nil)},
		{"nil logger", WithLogger(nil)},
		{"buffer below discovery packet", WithBufferCapacity(45)},
		{"negative receive timeout", WithReceiveTimeout(-time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			assert.Error(t, err)
		})
	}

	// Valid options apply cleanly.
	p, err := New(
		WithInterfaceProvider(netif.Static(nil, nil)),
		WithLogger(zap.NewNop()),
		WithBufferCapacity(4096),
		WithReceiveTimeout(50*time.Millisecond),
		WithStrictCompressionPointers(true),
	)
	require.NoError(t, err)
	assert.Len(t, p.buf, 4096)
	assert.True(t, p.parseOpts.StrictPointers)
}
