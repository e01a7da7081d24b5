package message

import (
	"net"

	"github.com/joshuafuller/scout/internal/protocol"
	"github.com/joshuafuller/scout/internal/wire"
)

// RecordHeader is the fixed portion shared by every parsed resource
// record: TYPE, CLASS, TTL and RDLENGTH per RFC 1035 §3.2.1. The class
// is kept as received, including the cache-flush bit (RFC 6762 §10.2).
type RecordHeader struct {
	Type   protocol.RecordType
	Class  uint16
	TTL    uint32
	Length uint16
}

// ARecord is a parsed IPv4 address record.
type ARecord struct {
	RecordHeader
	Addr net.IP
}

// AAAARecord is a parsed IPv6 address record.
type AAAARecord struct {
	RecordHeader
	Addr net.IP
}

// PTRRecord is a parsed domain name pointer record. For DNS-SD, Name is
// the service instance or service type being pointed at (RFC 6763 §4.1).
type PTRRecord struct {
	RecordHeader
	Name string
}

// SRVRecord is a parsed service location record per RFC 2782.
type SRVRecord struct {
	RecordHeader
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// TXTRecord is a single key=value entry from a TXT record's rdata. One
// TXT resource record on the wire yields one TXTRecord per key=value
// segment (RFC 6763 §6.3).
type TXTRecord struct {
	RecordHeader
	Key   string
	Value string
}

// Entry aggregates the records of one message section by variant,
// preserving wire order within each slice. Ignored counts records whose
// type is not understood or whose payload was malformed; their rdata is
// skipped but they still occupy their place in the section.
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

// Sections is a fully parsed reply body: the answer, authority and
// additional sections of one mDNS message (RFC 1035 §4.1).
type Sections struct {
	Answer     Entry
	Authority  Entry
	Additional Entry
}

// parseRecord decodes one resource record payload into the entry,
// dispatching on the record type. A payload that does not satisfy its
// type's length requirement, or whose embedded name is malformed, counts
// as ignored; the caller advances past the rdata either way.
func parseRecord(entry *Entry, hdr RecordHeader, buf []byte, offset int, strict bool) {
	length := int(hdr.Length)
	if offset < 0 || offset+length > len(buf) {
		entry.Ignored++
		return
	}

	switch hdr.Type {
	case protocol.RecordTypeA:
		// RFC 1035 §3.4.1: a 32-bit Internet address.
		if length != net.IPv4len {
			entry.Ignored++
			return
		}
		addr := make(net.IP, net.IPv4len)
		copy(addr, buf[offset:offset+net.IPv4len])
		entry.A = append(entry.A, ARecord{RecordHeader: hdr, Addr: addr})

	case protocol.RecordTypeAAAA:
		// RFC 3596 §2.2: a 128-bit IPv6 address.
		if length != net.IPv6len {
			entry.Ignored++
			return
		}
		addr := make(net.IP, net.IPv6len)
		copy(addr, buf[offset:offset+net.IPv6len])
		entry.AAAA = append(entry.AAAA, AAAARecord{RecordHeader: hdr, Addr: addr})

	case protocol.RecordTypePTR:
		// A compressed name is at least two bytes.
		if length < 2 {
			entry.Ignored++
			return
		}
		name, _, err := extractName(buf, offset, strict)
		if err != nil {
			entry.Ignored++
			return
		}
		entry.PTR = append(entry.PTR, PTRRecord{RecordHeader: hdr, Name: name})

	case protocol.RecordTypeSRV:
		// RFC 2782: priority, weight and port, then the target name,
		// which is at least two bytes when compressed.
		if length < 8 {
			entry.Ignored++
			return
		}
		r := wire.NewReader(buf, offset)
		priority, _ := r.Uint16()
		weight, _ := r.Uint16()
		port, err := r.Uint16()
		if err != nil {
			entry.Ignored++
			return
		}
		target, _, err := extractName(buf, r.Pos(), strict)
		if err != nil {
			entry.Ignored++
			return
		}
		entry.SRV = append(entry.SRV, SRVRecord{
			RecordHeader: hdr,
			Priority:     priority,
			Weight:       weight,
			Port:         port,
			Target:       target,
		})

	case protocol.RecordTypeTXT:
		parseTXT(entry, hdr, buf, offset)

	default:
		entry.Ignored++
	}
}

// parseTXT walks a TXT rdata as a concatenation of length-prefixed
// character strings (RFC 1035 §3.3.14) and extracts DNS-SD key=value
// pairs per RFC 6763 §6.
//
// RFC 6763 §6.4: keys MUST be printable US-ASCII (0x20-0x7E). A segment
// with a non-printable byte before the separator is dropped, as is a
// segment with no "=" or an "=" in the first position (empty key). A
// trailing "=" yields the key with an empty value.
func parseTXT(entry *Entry, hdr RecordHeader, buf []byte, offset int) {
	end := offset + int(hdr.Length)
	if end > len(buf) {
		end = len(buf)
	}

	for offset < end {
		sublength := int(buf[offset])
		str := buf[offset+1:]
		if offset+1+sublength > end {
			sublength = end - offset - 1
		}
		offset += sublength + 1

		separator := 0
		for c := 0; c < sublength; c++ {
			if str[c] < 0x20 || str[c] > 0x7E {
				break
			}
			if str[c] == '=' {
				separator = c
				break
			}
		}
		if separator == 0 {
			continue
		}

		entry.TXT = append(entry.TXT, TXTRecord{
			RecordHeader: hdr,
			Key:          string(str[:separator]),
			Value:        string(str[separator+1 : sublength]),
		})
	}
}
