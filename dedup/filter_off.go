//go:build nodedup

package dedup

// Enabled reports whether duplicate detection is compiled in.
const Enabled = false

// Filter is a stand-in that never reports duplicates.
type Filter struct{}

// New returns a filter.
func New() *Filter { return &Filter{} }

// Record does nothing.
func (f *Filter) Record(addr [6]byte, seq uint8) {}

// IsDuplicate always returns false.
func (f *Filter) IsDuplicate(addr [6]byte, seq uint8) bool { return false }

// Reset does nothing.
func (f *Filter) Reset() {}
