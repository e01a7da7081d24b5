// Package querier provides a high-level client API for mDNS (.local)
// service discovery per RFC 6762 and RFC 6763.
//
// The central type is the Performer: it enumerates the local network
// interfaces, opens one multicast socket per interface address on
// demand, and drives the two request shapes of DNS-SD — service type
// enumeration ("discovery", a PTR query for
// "_services._dns-sd._udp.local.") and direct record queries. Receives
// are polled: a receive call with no pending packet returns an empty
// Reply immediately, and the caller paces its own retry loop.
package querier

import (
	"net"

	"github.com/joshuafuller/scout/internal/message"
	"github.com/joshuafuller/scout/internal/protocol"
)

// RecordType represents a DNS record type for querying per RFC 1035.
//
// Supported types:
//   - RecordTypeA: IPv4 address records (type 1)
//   - RecordTypePTR: Pointer records (type 12) for service discovery
//   - RecordTypeTXT: Text records (type 16) for service metadata
//   - RecordTypeAAAA: IPv6 address records (type 28)
//   - RecordTypeSRV: Service records (type 33) for hostname and port
//
// Records of any other type in a reply are counted in Entry.Ignored and
// carry no payload.
type RecordType uint16

const (
	// RecordTypeA queries for IPv4 address records (type 1).
	RecordTypeA RecordType = RecordType(protocol.RecordTypeA)

	// RecordTypePTR queries for pointer records (type 12), used for
	// service discovery.
	RecordTypePTR RecordType = RecordType(protocol.RecordTypePTR)

	// RecordTypeTXT queries for text records (type 16) carrying
	// key=value service metadata.
	RecordTypeTXT RecordType = RecordType(protocol.RecordTypeTXT)

	// RecordTypeAAAA queries for IPv6 address records (type 28).
	RecordTypeAAAA RecordType = RecordType(protocol.RecordTypeAAAA)

	// RecordTypeSRV queries for service records (type 33) giving the
	// service hostname and port.
	RecordTypeSRV RecordType = RecordType(protocol.RecordTypeSRV)
)

// String returns the conventional mnemonic for the record type.
func (r RecordType) String() string {
	return protocol.RecordType(r).String()
}

// RecordHeader carries the wire fields common to every resource record:
// TYPE, CLASS, TTL and RDLENGTH per RFC 1035 §3.2.1.
//
// Class is kept exactly as received. mDNS responders set the top bit of
// the class as the cache-flush flag (RFC 6762 §10.2); mask with 0x7FFF
// to compare against ClassIN.
type RecordHeader struct {
	Type   RecordType
	Class  uint16
	TTL    uint32
	Length uint16
}

// ARecord is an IPv4 host address record.
type ARecord struct {
	RecordHeader

	// Addr is the 4-byte IPv4 address.
	Addr net.IP
}

// AAAARecord is an IPv6 host address record.
type AAAARecord struct {
	RecordHeader

	// Addr is the 16-byte IPv6 address.
	Addr net.IP
}

// PTRRecord is a domain name pointer record. In DNS-SD replies, Name is
// a service type ("_http._tcp.local.") or a service instance
// ("printer._http._tcp.local.") per RFC 6763 §4.1.
type PTRRecord struct {
	RecordHeader

	// Name is the decoded pointer target, with a trailing dot.
	Name string
}

// SRVRecord is a service location record per RFC 2782: the host and
// port where the service instance can be reached, plus the priority and
// weight used to pick among multiple targets.
type SRVRecord struct {
	RecordHeader

	// Priority of this target host; lower values are preferred.
	Priority uint16

	// Weight for load balancing among targets of equal priority.
	Weight uint16

	// Port where the service is available.
	Port uint16

	// Target is the host providing the service. Resolving it to an
	// address takes a follow-up A/AAAA query unless the responder
	// included one in the additional section.
	Target string
}

// TXTRecord is one key=value entry from a TXT record per RFC 6763 §6.
// A single TXT resource record on the wire contributes one TXTRecord
// per key=value segment; segments without a separator or with
// non-printable key bytes are dropped during parsing.
type TXTRecord struct {
	RecordHeader

	// Key is the attribute name, printable US-ASCII.
	Key string

	// Value is the attribute value; empty for "key=" segments.
	Value string
}

// Entry aggregates the records of one reply section by variant. Slices
// preserve wire order. Ignored counts records that were present but not
// parsed: unknown types and records with malformed payloads.
type Entry struct {
	A       []ARecord
	AAAA    []AAAARecord
	PTR     []PTRRecord
	SRV     []SRVRecord
	TXT     []TXTRecord
	Ignored int
}

// Empty reports whether the entry holds no parsed records.
func (e *Entry) Empty() bool {
	return len(e.A) == 0 && len(e.AAAA) == 0 && len(e.PTR) == 0 &&
		len(e.SRV) == 0 && len(e.TXT) == 0
}

// Reply is one parsed mDNS response message.
//
// An all-empty Reply is the normal result for "nothing to report": no
// packet was pending, or a packet arrived that was not a reply to our
// question (mDNS sockets receive every multicast on the link). The
// sender address distinguishes the two — it is populated whenever a
// packet was actually read.
type Reply struct {
	// FromAddress is the printable source address of the responder.
	FromAddress string

	// FromPort is the source UDP port of the responder. Conforming
	// mDNS responders reply from port 5353 (RFC 6762 §6); a different
	// port marks a legacy unicast response.
	FromPort uint16

	// Answer holds the records answering the question.
	Answer Entry

	// Authority holds the authority section records.
	Authority Entry

	// Additional holds additional records volunteered by the
	// responder, typically SRV/TXT/A records accompanying a PTR
	// answer (RFC 6763 §12).
	Additional Entry
}

// Empty reports whether the reply carries no records in any section.
func (r *Reply) Empty() bool {
	return r.Answer.Empty() && r.Authority.Empty() && r.Additional.Empty()
}

// newReply maps parsed message sections and the sender address into the
// public Reply tree.
func newReply(sections message.Sections, src *net.UDPAddr) Reply {
	reply := Reply{
		Answer:     newEntry(sections.Answer),
		Authority:  newEntry(sections.Authority),
		Additional: newEntry(sections.Additional),
	}
	if src != nil {
		reply.FromAddress = src.IP.String()
		reply.FromPort = uint16(src.Port)
	}
	return reply
}

func newEntry(e message.Entry) Entry {
	out := Entry{Ignored: e.Ignored}
	for _, r := range e.A {
		out.A = append(out.A, ARecord{RecordHeader: newHeader(r.RecordHeader), Addr: r.Addr})
	}
	for _, r := range e.AAAA {
		out.AAAA = append(out.AAAA, AAAARecord{RecordHeader: newHeader(r.RecordHeader), Addr: r.Addr})
	}
	for _, r := range e.PTR {
		out.PTR = append(out.PTR, PTRRecord{RecordHeader: newHeader(r.RecordHeader), Name: r.Name})
	}
	for _, r := range e.SRV {
		out.SRV = append(out.SRV, SRVRecord{
			RecordHeader: newHeader(r.RecordHeader),
			Priority:     r.Priority,
			Weight:       r.Weight,
			Port:         r.Port,
			Target:       r.Target,
		})
	}
	for _, r := range e.TXT {
		out.TXT = append(out.TXT, TXTRecord{RecordHeader: newHeader(r.RecordHeader), Key: r.Key, Value: r.Value})
	}
	return out
}

func newHeader(h message.RecordHeader) RecordHeader {
	return RecordHeader{
		Type:   RecordType(h.Type),
		Class:  h.Class,
		TTL:    h.TTL,
		Length: h.Length,
	}
}
