package jelling

import (
	"github.com/pkg/errors"

	"github.com/currantlabs/jelling/adv"
)

// CompanyID is the vendor identifier as a little endian company identifier.
const CompanyID = uint16(VendorID2)<<8 | VendorID1

// Limits bounds the frames a message is split into. Frame sizes include the
// length byte.
type Limits struct {
	FirstFrameSize int
	NextFrameSize  int
	MaxBuffer      int
}

// DefaultLimits returns the limits used by the extended advertising radio.
func DefaultLimits() Limits {
	return Limits{
		FirstFrameSize: DefaultFirstFrameSize,
		NextFrameSize:  DefaultNextFrameSize,
		MaxBuffer:      DefaultMaxBuffer,
	}
}

// Validate checks that every frame can carry at least one payload byte and
// that its length fits in the length byte.
func (l Limits) Validate() error {
	switch {
	case l.FirstFrameSize <= FirstHeaderLen || l.FirstFrameSize > MaxFrameSize:
		return errors.Wrapf(ErrInvalidLimits, "first frame size %d", l.FirstFrameSize)
	case l.NextFrameSize <= NextHeaderLen || l.NextFrameSize > MaxFrameSize:
		return errors.Wrapf(ErrInvalidLimits, "subsequent frame size %d", l.NextFrameSize)
	case l.MaxBuffer < l.FirstFrameSize:
		return errors.Wrapf(ErrInvalidLimits, "max buffer %d", l.MaxBuffer)
	}
	return nil
}

// Frame is one AD structure of a jelling message.
// The first frame of a message is laid out as
//
//	[len][0xFF][0xFE][0xED][next hop (6)][seq][payload ...]
//
// and every subsequent frame as
//
//	[len][0xFF][0xFE][0xED][seq][payload ...]
type Frame []byte

// Len returns the value of the length byte.
func (f Frame) Len() int {
	if len(f) == 0 {
		return 0
	}
	return int(f[0])
}

// Marker reports whether the frame carries the jelling vendor marker.
func (f Frame) Marker() bool { return HasMarker(f) }

// NextHop returns the next-hop address of a first frame. It is the zero Addr
// if the frame is too short.
func (f Frame) NextHop() Addr {
	var a Addr
	if len(f) >= markerEnd+AddrLen {
		copy(a[:], f[markerEnd:markerEnd+AddrLen])
	}
	return a
}

// Seq returns the sequence number. first selects the first frame layout.
// A frame too short to hold a header reads as sequence 0.
func (f Frame) Seq(first bool) uint8 {
	n := headerLen(first)
	if len(f) < n {
		return 0
	}
	return f[n-1]
}

// Payload returns the data following the header, nil for a frame without one.
func (f Frame) Payload(first bool) []byte {
	n := headerLen(first)
	if len(f) < n {
		return nil
	}
	return f[n:]
}

func headerLen(first bool) int {
	if first {
		return FirstHeaderLen
	}
	return NextHeaderLen
}

// Frames is the ordered list of frames of one message.
type Frames []Frame

// Len returns the total number of bytes of all frames.
func (fs Frames) Len() int {
	n := 0
	for _, f := range fs {
		n += len(f)
	}
	return n
}

// Bytes concatenates the frames into the advertising data of one instance.
func (fs Frames) Bytes() []byte {
	b := make([]byte, 0, fs.Len())
	for _, f := range fs {
		b = append(b, f...)
	}
	return b
}

// Fragment splits a packet given as a list of segments into frames. Payload
// is packed greedily; a new frame is started only when the current one is full
// and data remains. The sequence number is written into every frame.
func Fragment(segs [][]byte, nextHop Addr, seq uint8, l Limits) (Frames, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	w := fragmenter{limits: l, nextHop: nextHop, seq: seq}
	w.open()
	for _, s := range segs {
		for len(s) > 0 {
			if w.room() == 0 {
				if err := w.close(); err != nil {
					return nil, err
				}
				w.open()
			}
			n := copy(w.cur[len(w.cur):w.max-1], s)
			w.cur = w.cur[:len(w.cur)+n]
			s = s[n:]
		}
	}
	if err := w.close(); err != nil {
		return nil, err
	}
	return w.frames, nil
}

type fragmenter struct {
	limits  Limits
	nextHop Addr
	seq     uint8

	frames Frames
	total  int
	cur    []byte // frame body, excluding the length byte
	max    int    // size of the current frame including the length byte
}

func (w *fragmenter) open() {
	first := len(w.frames) == 0
	w.max = w.limits.NextFrameSize
	if first {
		w.max = w.limits.FirstFrameSize
	}
	w.cur = make([]byte, 0, w.max-1)
	w.cur = append(w.cur, adTypeVendor, VendorID1, VendorID2)
	if first {
		w.cur = append(w.cur, w.nextHop[:]...)
	}
	w.cur = append(w.cur, w.seq)
}

func (w *fragmenter) room() int { return w.max - 1 - len(w.cur) }

func (w *fragmenter) close() error {
	w.total += 1 + len(w.cur)
	if w.total > w.limits.MaxBuffer {
		return errors.Wrapf(ErrBufferExhausted, "%d > %d bytes", w.total, w.limits.MaxBuffer)
	}
	// The header is already in place; the frame is a manufacturer data field.
	f, err := adv.Packet(make([]byte, 0, 1+len(w.cur))).AppendField(w.cur[0], w.cur[1:])
	if err != nil {
		return errors.Wrap(err, "frame")
	}
	w.frames = append(w.frames, Frame(f))
	return nil
}
