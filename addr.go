package jelling

import (
	"encoding/hex"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// AddrLen is the length of a BLE device address.
const AddrLen = 6

// Addr is a BLE device address, most significant octet first.
type Addr [AddrLen]byte

// BroadcastAddr is the next-hop address used for multicast messages.
var BroadcastAddr = Addr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ParseAddr parses an address in the AA:BB:CC:DD:EE:FF form.
// Dashes are accepted as separators as well.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	s = strings.Replace(strings.TrimSpace(s), "-", ":", -1)
	parts := strings.Split(s, ":")
	if len(parts) != AddrLen {
		return a, errors.Wrapf(ErrInvalidAddr, "%q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return a, errors.Wrapf(ErrInvalidAddr, "%q", s)
		}
		if _, err := hex.Decode(a[i:i+1], []byte(p)); err != nil {
			return a, errors.Wrapf(ErrInvalidAddr, "%q", s)
		}
	}
	return a, nil
}

// String returns the address in upper case, colon separated form.
func (a Addr) String() string {
	const digits = "0123456789ABCDEF"
	b := make([]byte, 0, 3*AddrLen-1)
	for i, o := range a {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, digits[o>>4], digits[o&0x0F])
	}
	return string(b)
}

// IsBroadcast reports whether a is the multicast sentinel.
func (a Addr) IsBroadcast() bool { return a == BroadcastAddr }

// MarshalText implements encoding.TextMarshaler.
func (a Addr) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Addr) UnmarshalText(b []byte) error {
	p, err := ParseAddr(string(b))
	if err != nil {
		return err
	}
	*a = p
	return nil
}

// LinkLocal returns the fe80::/64 address whose interface identifier is
// derived from a as a modified EUI-64 [RFC 4291, Appendix A].
func (a Addr) LinkLocal() net.IP {
	ip := make(net.IP, net.IPv6len)
	ip[0], ip[1] = 0xFE, 0x80
	ip[8], ip[9], ip[10] = a[0]^0x02, a[1], a[2]
	ip[11], ip[12] = 0xFF, 0xFE
	ip[13], ip[14], ip[15] = a[3], a[4], a[5]
	return ip
}

// AddrFromLinkLocal recovers the device address of a link-local IPv6 address
// built by LinkLocal.
func AddrFromLinkLocal(ip net.IP) (Addr, bool) {
	ip = ip.To16()
	if ip == nil || ip.To4() != nil || !ip.IsLinkLocalUnicast() {
		return Addr{}, false
	}
	if ip[11] != 0xFF || ip[12] != 0xFE {
		return Addr{}, false
	}
	return Addr{ip[8] ^ 0x02, ip[9], ip[10], ip[13], ip[14], ip[15]}, true
}

// Match classifies the next-hop address of a received message.
type Match int

// Next-hop classifications.
const (
	MatchNone Match = iota
	MatchUnicast
	MatchMulticast
)

func (m Match) String() string {
	switch m {
	case MatchUnicast:
		return "unicast"
	case MatchMulticast:
		return "multicast"
	default:
		return "none"
	}
}

// Classifier decides whether a message is addressed to the local node.
type Classifier struct {
	Own Addr
}

// Classify returns MatchUnicast for the local address, MatchMulticast for the
// broadcast sentinel and MatchNone otherwise.
func (c Classifier) Classify(nextHop Addr) Match {
	switch nextHop {
	case c.Own:
		return MatchUnicast
	case BroadcastAddr:
		return MatchMulticast
	}
	return MatchNone
}

// HasMarker reports whether b starts with a vendor specific AD structure
// carrying the jelling vendor identifier.
func HasMarker(b []byte) bool {
	return len(b) >= markerEnd &&
		b[1] == adTypeVendor &&
		b[2] == VendorID1 &&
		b[3] == VendorID2
}
