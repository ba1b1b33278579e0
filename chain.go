package jelling

import (
	"github.com/pkg/errors"

	"github.com/currantlabs/jelling/adv"
)

// DataStatus is the data status of an extended advertising report
// [Vol 4, Part E, 7.7.65.13].
type DataStatus uint8

// Data status values.
const (
	DataComplete   DataStatus = 0x00
	DataIncomplete DataStatus = 0x01 // more data to come
	DataTruncated  DataStatus = 0x02 // incomplete, no more data to come
)

func (s DataStatus) String() string {
	switch s {
	case DataComplete:
		return "complete"
	case DataIncomplete:
		return "incomplete"
	case DataTruncated:
		return "truncated"
	}
	return "unknown"
}

// Message is a reassembled packet.
type Message struct {
	Src     Addr
	NextHop Addr
	Match   Match
	Seq     uint8
	Data    []byte
}

// Chain reassembles the reports of one multi report advertisement.
// Only one chain is live at a time and it is bound to the sender and
// advertising set of its first report; reports of other senders or sets are
// ignored until the chain ends.
// A Chain is not safe for concurrent use.
type Chain struct {
	cls Classifier
	max int

	ongoing bool
	skip    bool // collecting a message addressed to someone else
	sender  Addr
	sid     uint8
	match   Match
	seq     uint8
	buf     []byte
}

// NewChain returns a chain accepting messages for own and the broadcast
// address, holding at most size bytes.
func NewChain(own Addr, size int) *Chain {
	return &Chain{
		cls: Classifier{Own: own},
		max: size,
		buf: make([]byte, 0, size),
	}
}

// Ongoing reports whether a multi report reception is in progress.
func (c *Chain) Ongoing() bool { return c.ongoing }

// Reset abandons the current chain.
func (c *Chain) Reset() {
	c.ongoing = false
	c.skip = false
	c.match = MatchNone
	c.buf = c.buf[:0]
}

// OnReport feeds one advertising report. It returns the reassembled message
// once the last report of a message addressed to this node arrives. A nil
// message with a nil error means the report was consumed or ignored. An error
// means the chain was abandoned; it's informational.
func (c *Chain) OnReport(sender Addr, sid uint8, data []byte, st DataStatus) (*Message, error) {
	if c.ongoing {
		if sender != c.sender || sid != c.sid {
			return nil, nil
		}
		return c.collect(data, st)
	}

	if !HasMarker(data) {
		return nil, nil
	}
	if st == DataTruncated {
		return nil, ErrTruncated
	}
	if len(data) < FirstHeaderLen {
		if st == DataIncomplete {
			// Too short to classify; drop the rest of it.
			c.start(sender, sid, MatchNone, 0)
			c.skip = true
		}
		return nil, errors.Wrap(ErrMalformed, "short first frame")
	}

	f := Frame(data)
	m := c.cls.Classify(f.NextHop())
	c.start(sender, sid, m, f.Seq(true))
	if m == MatchNone {
		c.skip = true
	}
	return c.collect(data, st)
}

func (c *Chain) start(sender Addr, sid uint8, m Match, seq uint8) {
	c.Reset()
	c.ongoing = true
	c.sender = sender
	c.sid = sid
	c.match = m
	c.seq = seq
}

func (c *Chain) collect(data []byte, st DataStatus) (*Message, error) {
	if c.skip {
		if st != DataIncomplete {
			c.Reset()
		}
		return nil, nil
	}
	if st == DataTruncated {
		c.Reset()
		return nil, ErrTruncated
	}
	if len(c.buf)+len(data) > c.max {
		n := len(c.buf) + len(data)
		c.Reset()
		return nil, errors.Wrapf(ErrChainOverflow, "%d > %d bytes", n, c.max)
	}
	c.buf = append(c.buf, data...)
	if st == DataIncomplete {
		return nil, nil
	}
	defer c.Reset()
	return c.finalize()
}

// finalize strips the frame headers from the accumulated data.
func (c *Chain) finalize() (*Message, error) {
	msg := &Message{
		Src:   c.sender,
		Match: c.match,
		Seq:   c.seq,
		Data:  make([]byte, 0, len(c.buf)),
	}
	s := adv.NewScanner(c.buf)
	first := true
	for s.Next() {
		f := Frame(s.Structure())
		hdr := NextHeaderLen
		if first {
			hdr = FirstHeaderLen
		}
		if len(f) < hdr || !f.Marker() {
			return nil, errors.Wrapf(ErrMalformed, "frame at %d", s.Offset()-len(f))
		}
		if f.Seq(first) != c.seq {
			return nil, errors.Wrapf(ErrMalformed, "sequence %d in message %d", f.Seq(first), c.seq)
		}
		if first {
			msg.NextHop = f.NextHop()
		}
		msg.Data = append(msg.Data, f.Payload(first)...)
		first = false
	}
	if s.Err() != nil {
		return nil, errors.Wrap(ErrMalformed, s.Err().Error())
	}
	if first {
		return nil, errors.Wrap(ErrMalformed, "no frames")
	}
	return msg, nil
}
