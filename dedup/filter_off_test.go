//go:build nodedup

package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterCompiledOut(t *testing.T) {
	f := New()
	a := [6]byte{1, 2, 3, 4, 5, 6}
	f.Record(a, 1)
	assert.False(t, f.IsDuplicate(a, 1))
	assert.False(t, Enabled)
}
