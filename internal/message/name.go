// Package message implements the DNS/mDNS wire codec: domain name
// compression per RFC 1035 §4.1.4, resource record parsing for the types
// DNS-SD cares about (RFC 6763), and the two outgoing query shapes the
// querier sends (RFC 6762 §5).
//
// The decode side is written against hostile input. Every read is bounds
// checked, compression pointer chains are explicitly bounded, and a
// malformed record degrades to an ignored record rather than an error
// escaping the receive path.
package message

import (
	"strings"

	"github.com/joshuafuller/scout/internal/errors"
	"github.com/joshuafuller/scout/internal/protocol"
)

// isPointer reports whether a name byte begins a compression pointer.
// RFC 1035 §4.1.4: the top two bits 11 distinguish a pointer from a label
// length (top bits 00).
func isPointer(b byte) bool { return b&0xC0 == 0xC0 }

// label locates the next label of a name, following at most one
// compression pointer. It returns the offset and length of the label
// content, whether a pointer was followed to reach it, and ok=false if
// the label runs past the end of the buffer.
//
// A zero-length result with ok=true is the name terminator.
func label(buf []byte, offset int) (pos, length int, ref bool, ok bool) {
	if offset < 0 || offset >= len(buf) {
		return 0, 0, false, false
	}
	if buf[offset] == 0 {
		return offset, 0, false, true
	}
	if isPointer(buf[offset]) {
		if offset+2 > len(buf) {
			return 0, 0, false, false
		}
		target := int(buf[offset]&0x3F)<<8 | int(buf[offset+1])
		if target >= len(buf) {
			return 0, 0, false, false
		}
		offset = target
		ref = true
		if buf[offset] == 0 {
			return offset, 0, ref, true
		}
		if isPointer(buf[offset]) {
			// A pointer directly at a pointer target is handled by the
			// caller's jump loop; report it as a zero-progress label so
			// the traversal bound can trip on adversarial chains.
			return offset, -1, ref, true
		}
	}
	length = int(buf[offset])
	offset++
	if offset+length > len(buf) {
		return 0, 0, false, false
	}
	return offset, length, ref, true
}

// ExtractName decodes the domain name at offset, following compression
// pointers per RFC 1035 §4.1.4.
//
// The returned next offset is the position immediately after the name as
// it appeared at the original offset: the first pointer encountered ends
// the in-place encoding, so next is the pointer position plus two
// regardless of where the pointer chain leads.
//
// Every label carries a trailing dot, so a non-root name ends in "."
// ("_http._tcp.local.") and the root name decodes to the empty string.
//
// Pointer chains are bounded: decoding fails once the traversal has
// visited more bytes than the packet holds, so a hostile packet with a
// pointer loop terminates in O(len(buf)).
func ExtractName(buf []byte, offset int) (string, int, error) {
	return extractName(buf, offset, false)
}

// ExtractNameStrict is ExtractName with the RFC 1035 §4.1.4 direction
// rule enforced: a compression pointer must point to a prior occurrence,
// i.e. strictly before the position of the pointer itself.
func ExtractNameStrict(buf []byte, offset int) (string, int, error) {
	return extractName(buf, offset, true)
}

func extractName(buf []byte, offset int, strict bool) (string, int, error) {
	if offset < 0 || offset >= len(buf) {
		return "", 0, &errors.WireFormatError{Offset: offset, Detail: "name offset out of bounds"}
	}

	var b strings.Builder
	cur := offset
	next := -1 // offset after the name at its original position
	visited := 0

	for {
		if cur >= len(buf) {
			return "", 0, &errors.WireFormatError{Offset: cur, Detail: "truncated name"}
		}
		c := buf[cur]
		switch {
		case c == 0:
			if next < 0 {
				next = cur + 1
			}
			return b.String(), next, nil

		case isPointer(c):
			if cur+2 > len(buf) {
				return "", 0, &errors.WireFormatError{Offset: cur, Detail: "truncated compression pointer"}
			}
			target := int(c&0x3F)<<8 | int(buf[cur+1])
			if target >= len(buf) {
				return "", 0, &errors.WireFormatError{Offset: cur, Detail: "compression pointer out of bounds"}
			}
			if strict && target >= cur {
				return "", 0, &errors.WireFormatError{Offset: cur, Detail: "compression pointer does not point backwards"}
			}
			if next < 0 {
				next = cur + 2
			}
			visited += 2
			if visited > len(buf) {
				return "", 0, &errors.WireFormatError{Offset: cur, Detail: "compression pointer loop"}
			}
			cur = target

		default:
			length := int(c)
			if length > protocol.MaxLabelLength {
				return "", 0, &errors.WireFormatError{Offset: cur, Detail: "label exceeds 63 bytes"}
			}
			if cur+1+length > len(buf) {
				return "", 0, &errors.WireFormatError{Offset: cur, Detail: "truncated label"}
			}
			if b.Len()+length+1 > protocol.MaxNameLength {
				return "", 0, &errors.WireFormatError{Offset: cur, Detail: "name exceeds 255 bytes"}
			}
			b.Write(buf[cur+1 : cur+1+length])
			b.WriteByte('.')
			visited += 1 + length
			if visited > len(buf) {
				return "", 0, &errors.WireFormatError{Offset: cur, Detail: "compression pointer loop"}
			}
			cur += 1 + length
		}
	}
}

// SkipName advances past the name at offset without decoding it,
// returning the offset of the byte after the name. A compression pointer
// ends the in-place encoding, so the cursor advances two bytes past the
// first pointer encountered.
func SkipName(buf []byte, offset int) (int, bool) {
	cur := offset
	for {
		pos, length, ref, ok := label(buf, cur)
		if !ok {
			return 0, false
		}
		if ref {
			return cur + 2, true
		}
		if length < 0 {
			return 0, false
		}
		if length == 0 {
			return pos + 1, true
		}
		cur = pos + length
	}
}

// NameEqual walks the names at offL in bufL and offR in bufR in parallel,
// each with its own compression state, and reports whether they are equal
// under case-insensitive ASCII comparison (RFC 1035 §2.3.3). On success
// it also returns the offsets immediately after each name at its
// original position, matching the cursor discipline of ExtractName.
//
// The querier uses this to verify that the question echoed in a reply is
// the discovery question it sent, comparing directly against the wire
// form without allocating either name.
func NameEqual(bufL []byte, offL int, bufR []byte, offR int) (nextL, nextR int, equal bool) {
	curL, curR := offL, offR
	endL, endR := -1, -1
	// Pointer-hop bound for both sides; either side looping trips it.
	hops := 0
	maxHops := len(bufL) + len(bufR)

	for {
		posL, lenL, refL, okL := label(bufL, curL)
		posR, lenR, refR, okR := label(bufR, curR)
		if !okL || !okR {
			return 0, 0, false
		}
		if lenL < 0 || lenR < 0 {
			// Chained pointer; re-enter from the target.
			hops++
			if hops > maxHops {
				return 0, 0, false
			}
			if lenL < 0 {
				if refL && endL < 0 {
					endL = curL + 2
				}
				curL = posL
			}
			if lenR < 0 {
				if refR && endR < 0 {
					endR = curR + 2
				}
				curR = posR
			}
			continue
		}
		if lenL != lenR {
			return 0, 0, false
		}
		if !asciiEqualFold(bufL[posL:posL+lenL], bufR[posR:posR+lenR]) {
			return 0, 0, false
		}
		if refL && endL < 0 {
			endL = curL + 2
		}
		if refR && endR < 0 {
			endR = curR + 2
		}
		if lenL == 0 {
			if endL < 0 {
				endL = posL + 1
			}
			if endR < 0 {
				endR = posR + 1
			}
			return endL, endR, true
		}
		hops++
		if hops > maxHops {
			return 0, 0, false
		}
		curL = posL + lenL
		curR = posR + lenR
	}
}

// asciiEqualFold compares two byte slices of equal length ignoring ASCII
// case, strncasecmp-style.
func asciiEqualFold(a, b []byte) bool {
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// PutName encodes a dotted domain name into dst as a sequence of
// length-prefixed labels followed by the zero terminator, per RFC 1035
// §3.1. It returns the number of bytes written.
//
// A trailing dot is accepted and ignored; "local." and "local" encode
// identically. Labels over 63 bytes and names whose encoded form exceeds
// 256 bytes are rejected with a ValidationError, as are empty interior
// labels ("a..b").
func PutName(dst []byte, name string) (int, error) {
	name = strings.TrimSuffix(name, ".")
	pos := 0
	if name != "" {
		if len(name)+2 > protocol.MaxNameLength+1 {
			return 0, &errors.ValidationError{Field: "name", Detail: "exceeds maximum 255 bytes per RFC 1035 §3.1"}
		}
		for _, lbl := range strings.Split(name, ".") {
			if lbl == "" {
				return 0, &errors.ValidationError{Field: "name", Detail: "empty label"}
			}
			if len(lbl) > protocol.MaxLabelLength {
				return 0, &errors.ValidationError{Field: "label", Detail: "exceeds maximum 63 bytes per RFC 1035 §3.1"}
			}
			if pos+1+len(lbl) > len(dst) {
				return 0, &errors.WireFormatError{Offset: pos, Detail: "write exceeds buffer capacity"}
			}
			dst[pos] = byte(len(lbl))
			copy(dst[pos+1:], lbl)
			pos += 1 + len(lbl)
		}
	}
	if pos+1 > len(dst) {
		return 0, &errors.WireFormatError{Offset: pos, Detail: "write exceeds buffer capacity"}
	}
	dst[pos] = 0
	return pos + 1, nil
}
