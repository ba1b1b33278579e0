package jelling

import (
	"golang.org/x/net/ipv6"
)

const protoICMPv6 = 58

// Packet is an outbound network packet. Segments are sent in order, as if
// they were one contiguous buffer.
type Packet struct {
	Dst       Addr // next hop, ignored when Multicast is set
	Multicast bool
	Segments  [][]byte
}

// NewPacket returns a packet of a single buffer.
func NewPacket(dst Addr, multicast bool, b []byte) Packet {
	return Packet{Dst: dst, Multicast: multicast, Segments: [][]byte{b}}
}

// Len returns the total length of all segments.
func (p Packet) Len() int {
	n := 0
	for _, s := range p.Segments {
		n += len(s)
	}
	return n
}

// NextHop returns the address written into the first frame.
func (p Packet) NextHop() Addr {
	if p.Multicast {
		return BroadcastAddr
	}
	return p.Dst
}

// IsICMPv6 reports whether the packet is an IPv6 packet carrying ICMPv6.
func (p Packet) IsICMPv6() bool {
	hdr := make([]byte, 0, ipv6.HeaderLen)
	for _, s := range p.Segments {
		if len(hdr) == ipv6.HeaderLen {
			break
		}
		n := ipv6.HeaderLen - len(hdr)
		if n > len(s) {
			n = len(s)
		}
		hdr = append(hdr, s[:n]...)
	}
	h, err := ipv6.ParseHeader(hdr)
	if err != nil || h.Version != ipv6.Version {
		return false
	}
	return h.NextHeader == protoICMPv6
}
