//go:build !nodedup

package dedup

// Enabled reports whether duplicate detection is compiled in.
const Enabled = true

// Filter remembers the last Size (address, sequence) pairs seen.
// Records are written at a rotating cursor, overwriting the oldest one.
// A Filter is not safe for concurrent use.
type Filter struct {
	entries [Size]entry
	pos     int
}

type entry struct {
	addr  [6]byte
	seq   uint8
	valid bool
}

// New returns an empty filter.
func New() *Filter {
	return &Filter{}
}

// Record stores the pair, overwriting the oldest record.
func (f *Filter) Record(addr [6]byte, seq uint8) {
	f.entries[f.pos] = entry{addr: addr, seq: seq, valid: true}
	f.pos = (f.pos + 1) % Size
}

// IsDuplicate reports whether the pair is among the recorded ones.
func (f *Filter) IsDuplicate(addr [6]byte, seq uint8) bool {
	for _, e := range f.entries {
		if e.valid && e.seq == seq && e.addr == addr {
			return true
		}
	}
	return false
}

// Reset forgets all records.
func (f *Filter) Reset() {
	*f = Filter{}
}
