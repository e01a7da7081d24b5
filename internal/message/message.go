package message

import (
	"fmt"

	"github.com/joshuafuller/scout/internal/errors"
	"github.com/joshuafuller/scout/internal/protocol"
	"github.com/joshuafuller/scout/internal/wire"
)

// discoveryQuery is the canonical DNS-SD service enumeration packet: one
// PTR question for "_services._dns-sd._udp.local." with the QU bit set
// (RFC 6762 §5.4, RFC 6763 §9). Transaction ID zero marks it as a
// one-shot multicast query. 46 bytes, byte-for-byte fixed.
var discoveryQuery = [46]byte{
	// Transaction ID
	0x00, 0x00,
	// Flags
	0x00, 0x00,
	// 1 question
	0x00, 0x01,
	// No answer, authority or additional RRs
	0x00, 0x00,
	0x00, 0x00,
	0x00, 0x00,
	// _services._dns-sd._udp.local.
	0x09, '_', 's', 'e', 'r', 'v', 'i', 'c', 'e', 's',
	0x07, '_', 'd', 'n', 's', '-', 's', 'd',
	0x04, '_', 'u', 'd', 'p',
	0x05, 'l', 'o', 'c', 'a', 'l',
	0x00,
	// QTYPE PTR
	0x00, byte(protocol.RecordTypePTR),
	// QCLASS: QU (unicast response requested) | IN
	0x80, byte(protocol.ClassIN),
}

// discoveryQNameOffset is where the question name starts inside
// discoveryQuery, right after the fixed header.
const discoveryQNameOffset = protocol.HeaderSize

// BuildDiscoveryQuery writes the canonical discovery packet into dst and
// returns its length.
func BuildDiscoveryQuery(dst []byte) (int, error) {
	if len(dst) < len(discoveryQuery) {
		return 0, &errors.WireFormatError{Offset: 0, Detail: "write exceeds buffer capacity"}
	}
	return copy(dst, discoveryQuery[:]), nil
}

// BuildQuery writes a one-question mDNS query into dst: the given
// transaction ID, zero flags, and a single question for (name, rtype)
// with the QU bit set in the class (RFC 6762 §5.4). It returns the
// packet length.
//
// The capacity precheck mirrors the fixed overhead: 12 header bytes,
// the name's length prefixes and terminator, and 4 trailing bytes of
// QTYPE and QCLASS.
func BuildQuery(dst []byte, transactionID uint16, rtype protocol.RecordType, name string) (int, error) {
	if len(dst) < 17+len(name) {
		return 0, &errors.WireFormatError{Offset: 0, Detail: "write exceeds buffer capacity"}
	}

	// Header: ID, flags 0, one question, no RRs.
	w := wire.NewWriter(dst)
	for _, v := range []uint16{transactionID, 0, 1, 0, 0, 0} {
		if err := w.Uint16(v); err != nil {
			return 0, err
		}
	}

	n, err := PutName(dst[w.Len():], name)
	if err != nil {
		return 0, err
	}

	tail := wire.NewWriter(dst[w.Len()+n:])
	if err := tail.Uint16(uint16(rtype)); err != nil {
		return 0, err
	}
	if err := tail.Uint16(protocol.UnicastResponseBit | protocol.ClassIN); err != nil {
		return 0, err
	}
	return w.Len() + n + tail.Len(), nil
}

// header is the parsed 12-byte DNS message header (RFC 1035 §4.1.1).
type header struct {
	transactionID uint16
	flags         uint16
	questions     uint16
	answerRRs     uint16
	authorityRRs  uint16
	additionalRRs uint16
}

func parseHeader(pkt []byte) (header, bool) {
	r := wire.NewReader(pkt, 0)
	var h header
	for _, field := range []*uint16{
		&h.transactionID, &h.flags, &h.questions,
		&h.answerRRs, &h.authorityRRs, &h.additionalRRs,
	} {
		v, err := r.Uint16()
		if err != nil {
			return header{}, false
		}
		*field = v
	}
	return h, true
}

// ParseOptions adjusts decoding behavior.
type ParseOptions struct {
	// StrictPointers requires compression pointers to point strictly
	// backwards, per RFC 1035 §4.1.4. Off by default: some responders
	// in the wild emit forward references.
	StrictPointers bool
}

// ParseDiscoveryReply parses pkt as a reply to the discovery query.
//
// Acceptance per RFC 6762 §6 and §18: transaction ID zero, flags exactly
// QR|AA (0x8400), at most one echoed question, and — if present — the
// question must be the discovery question itself: the enumeration name,
// QTYPE PTR, class IN with the cache-flush/QU bit masked. Any mismatch
// returns ok=false, which the querier surfaces as an empty reply; an
// mDNS socket receives plenty of traffic that simply is not for us.
//
// Answer records whose owner name is not the enumeration name are
// skipped without being parsed, but the walk still advances past them.
// Authority and additional sections are parsed unconditionally.
func ParseDiscoveryReply(pkt []byte, opts ParseOptions) (Sections, bool) {
	var sections Sections

	hdr, ok := parseHeader(pkt)
	if !ok {
		return sections, false
	}
	if hdr.transactionID != 0 || hdr.flags != protocol.FlagsAuthoritativeResponse {
		return sections, false
	}
	if hdr.questions > 1 {
		return sections, false
	}

	offset := protocol.HeaderSize
	for i := 0; i < int(hdr.questions); i++ {
		next, _, equal := NameEqual(pkt, offset, discoveryQuery[:], discoveryQNameOffset)
		if !equal {
			return sections, false
		}
		r := wire.NewReader(pkt, next)
		qtype, err := r.Uint16()
		if err != nil {
			return sections, false
		}
		qclass, err := r.Uint16()
		if err != nil {
			return sections, false
		}
		if protocol.RecordType(qtype) != protocol.RecordTypePTR ||
			qclass&protocol.CacheFlushMask != protocol.ClassIN {
			return sections, false
		}
		offset = r.Pos()
	}

	for i := 0; i < int(hdr.answerRRs); i++ {
		next, _, isAnswer := NameEqual(pkt, offset, discoveryQuery[:], discoveryQNameOffset)
		if !isAnswer {
			next, ok = SkipName(pkt, offset)
			if !ok {
				return Sections{}, false
			}
		}
		rhdr, payload, afterRecord, ok := readRecordHeader(pkt, next)
		if !ok {
			return Sections{}, false
		}
		if isAnswer {
			parseRecord(&sections.Answer, rhdr, pkt, payload, opts.StrictPointers)
		}
		offset = afterRecord
	}

	if offset, ok = parseEntry(&sections.Authority, pkt, offset, int(hdr.authorityRRs), opts); !ok {
		return Sections{}, false
	}
	if _, ok = parseEntry(&sections.Additional, pkt, offset, int(hdr.additionalRRs), opts); !ok {
		return Sections{}, false
	}
	return sections, true
}

// ParseQueryReply parses pkt as a reply to the query sent with wantID.
//
// Only the transaction ID is matched; response flags are deliberately
// not validated, since responders differ in which of RD/RA they echo for
// one-shot queries. A mismatched ID returns ok=false. The echoed
// question, if present, is skipped without verification.
func ParseQueryReply(pkt []byte, wantID uint16, opts ParseOptions) (Sections, bool) {
	var sections Sections

	hdr, ok := parseHeader(pkt)
	if !ok {
		return sections, false
	}
	if hdr.transactionID != wantID {
		return sections, false
	}
	if hdr.questions > 1 {
		return sections, false
	}

	offset := protocol.HeaderSize
	for i := 0; i < int(hdr.questions); i++ {
		next, ok := SkipName(pkt, offset)
		if !ok || next+4 > len(pkt) {
			return Sections{}, false
		}
		offset = next + 4
	}

	if offset, ok = parseEntry(&sections.Answer, pkt, offset, int(hdr.answerRRs), opts); !ok {
		return Sections{}, false
	}
	if offset, ok = parseEntry(&sections.Authority, pkt, offset, int(hdr.authorityRRs), opts); !ok {
		return Sections{}, false
	}
	if _, ok = parseEntry(&sections.Additional, pkt, offset, int(hdr.additionalRRs), opts); !ok {
		return Sections{}, false
	}
	return sections, true
}

// parseEntry walks count resource records starting at offset, appending
// parsed records to the entry, and returns the offset after the section.
// Truncation anywhere in the section invalidates the whole message.
func parseEntry(entry *Entry, pkt []byte, offset, count int, opts ParseOptions) (int, bool) {
	for i := 0; i < count; i++ {
		next, ok := SkipName(pkt, offset)
		if !ok {
			return 0, false
		}
		rhdr, payload, afterRecord, ok := readRecordHeader(pkt, next)
		if !ok {
			return 0, false
		}
		parseRecord(entry, rhdr, pkt, payload, opts.StrictPointers)
		offset = afterRecord
	}
	return offset, true
}

// readRecordHeader reads the 10-byte RR header at offset and bounds
// checks the rdata against the packet, returning the header, the rdata
// offset and the offset of the next record.
func readRecordHeader(pkt []byte, offset int) (RecordHeader, int, int, bool) {
	r := wire.NewReader(pkt, offset)
	rtype, err := r.Uint16()
	if err != nil {
		return RecordHeader{}, 0, 0, false
	}
	class, err := r.Uint16()
	if err != nil {
		return RecordHeader{}, 0, 0, false
	}
	// TTL is a 32-bit field (RFC 1035 §3.2.1); all four bytes count.
	ttl, err := r.Uint32()
	if err != nil {
		return RecordHeader{}, 0, 0, false
	}
	rdlength, err := r.Uint16()
	if err != nil {
		return RecordHeader{}, 0, 0, false
	}
	hdr := RecordHeader{
		Type:   protocol.RecordType(rtype),
		Class:  class,
		TTL:    ttl,
		Length: rdlength,
	}
	payload := r.Pos()
	afterRecord := payload + int(hdr.Length)
	if afterRecord > len(pkt) {
		return RecordHeader{}, 0, 0, false
	}
	return hdr, payload, afterRecord, true
}

// DiscoveryQueryLen is the size of the canonical discovery packet.
const DiscoveryQueryLen = len(discoveryQuery)

// String implements fmt.Stringer for diagnostics in debug logs.
func (h RecordHeader) String() string {
	return fmt.Sprintf("%s class=0x%04x ttl=%d rdlen=%d", h.Type, h.Class, h.TTL, h.Length)
}
