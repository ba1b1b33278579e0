package adv

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	// ErrFieldTooLong is returned when a value does not fit in one AD structure.
	ErrFieldTooLong = errors.New("field value exceeds 254 bytes")

	// ErrShortField is returned when a length octet runs past the data.
	ErrShortField = errors.New("field length exceeds data")
)

// Packet is an utility to craft or parse advertising data.
// Refer to Supplement to Bluetooth Core Specification | CSSv6, Part A
type Packet []byte

// Field returns the field data (excluding the initial length and typ byte).
// It returns nil, if the specified field is not found.
func (p Packet) Field(typ byte) []byte {
	s := NewScanner(p)
	for s.Next() {
		if s.Type() == typ {
			return s.Value()
		}
	}
	return nil
}

// ManufacturerData returns the company identifier and the data of the first
// manufacturer specific field.
func (p Packet) ManufacturerData() (uint16, []byte, bool) {
	b := p.Field(ManufacturerData)
	if len(b) < 2 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint16(b), b[2:], true
}

// AppendField appends a BLE advertising packet field.
func (p Packet) AppendField(typ byte, b []byte) (Packet, error) {
	if len(b) > MaxFieldLength {
		return p, ErrFieldTooLong
	}
	p = append(p, byte(len(b)+1), typ)
	return append(p, b...), nil
}

// AppendFlags appends a flag field to the packet.
func (p Packet) AppendFlags(f byte) Packet {
	p, _ = p.AppendField(Flags, []byte{f})
	return p
}

// AppendManufacturerData appends a manufacturer data field to the packet.
// The company identifier is little endian on air.
func (p Packet) AppendManufacturerData(id uint16, b ...[]byte) (Packet, error) {
	n := 2
	for _, s := range b {
		n += len(s)
	}
	if n > MaxFieldLength {
		return p, ErrFieldTooLong
	}
	p = append(p, byte(n+1), ManufacturerData, uint8(id), uint8(id>>8))
	for _, s := range b {
		p = append(p, s...)
	}
	return p, nil
}

// Len ...
func (p Packet) Len() int {
	return len(p)
}
