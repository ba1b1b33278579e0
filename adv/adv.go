package adv

// Scanner walks the AD structures of a packet.
//
//	s := adv.NewScanner(b)
//	for s.Next() {
//		use(s.Type(), s.Value())
//	}
//	if s.Err() != nil { ... }
//
// A zero length octet terminates the data early [Vol 3, Part C, 11].
type Scanner struct {
	b   []byte
	off int
	cur []byte
	err error
}

// NewScanner returns a Scanner reading from b.
func NewScanner(b []byte) *Scanner {
	return &Scanner{b: b}
}

// Next advances to the next structure. It returns false at the end of the
// data, at a zero length octet, or on a malformed length.
func (s *Scanner) Next() bool {
	s.cur = nil
	if s.err != nil || s.off >= len(s.b) {
		return false
	}
	l := int(s.b[s.off])
	if l == 0 {
		s.off = len(s.b)
		return false
	}
	end := s.off + 1 + l
	if end > len(s.b) {
		s.err = ErrShortField
		return false
	}
	s.cur = s.b[s.off:end]
	s.off = end
	return true
}

// Structure returns the current structure including its length octet.
func (s *Scanner) Structure() []byte { return s.cur }

// Type returns the AD type of the current structure.
func (s *Scanner) Type() byte { return s.cur[1] }

// Value returns the data of the current structure.
func (s *Scanner) Value() []byte { return s.cur[2:] }

// Offset returns the offset of the next structure.
func (s *Scanner) Offset() int { return s.off }

// Err returns the first malformed length found, if any.
func (s *Scanner) Err() error { return s.err }
