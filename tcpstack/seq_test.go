package tcpstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqLessThanWrapsAround(t *testing.T) {
	var a Seq = 0xfffffff0
	var b Seq = 0x00000010

	assert.True(t, a.LessThan(b), "expected %x < %x across the wrap", a, b)
	assert.False(t, b.LessThan(a), "did not expect %x < %x", b, a)
}

func TestSeqInWindow(t *testing.T) {
	base := Seq(1000)

	assert.True(t, base.InWindow(base, 100), "a sequence number should be in its own window's start")
	assert.True(t, base.Add(99).InWindow(base, 100), "last byte of a 100-byte window should be in-window")
	assert.False(t, base.Add(100).InWindow(base, 100), "one past the window should not be in-window")
}

func TestSeqAddWraps(t *testing.T) {
	var max Seq = 0xffffffff
	assert.Equal(t, Seq(0), max.Add(1), "expected wraparound to 0")
}
