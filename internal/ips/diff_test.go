package ips

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	orig := make([]byte, 0x20000)
	for i := range orig {
		orig[i] = byte(i * 7)
	}

	tests := []struct {
		name   string
		modify func([]byte) []byte
	}{
		{
			name:   "Identical",
			modify: func(b []byte) []byte { return b },
		},
		{
			name: "Single byte",
			modify: func(b []byte) []byte {
				b[0x123] ^= 0xFF
				return b
			},
		},
		{
			name: "Nearby edits merge",
			modify: func(b []byte) []byte {
				b[0x10] = 0
				b[0x12] = 0
				return b
			},
		},
		{
			name: "Uniform fill",
			modify: func(b []byte) []byte {
				copy(b[0x200:], bytes.Repeat([]byte{0xCC}, 0x100))
				return b
			},
		},
		{
			name: "Run longer than a record",
			modify: func(b []byte) []byte {
				for i := 0x100; i < 0x100+0x12000; i++ {
					b[i] = ^b[i]
				}
				return b
			},
		},
		{
			name: "Truncated",
			modify: func(b []byte) []byte {
				b[1] = 0x42
				return b[:0x1800]
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := tt.modify(append([]byte(nil), orig...))

			p, err := Diff(orig, mod)
			require.NoError(t, err)

			raw, err := p.MarshalBinary()
			require.NoError(t, err)
			parsed, err := Parse(raw)
			require.NoError(t, err)

			buf := append([]byte(nil), orig...)
			require.NoError(t, parsed.Apply(buf))
			if parsed.HasTruncate {
				buf = buf[:parsed.Truncate]
			}
			assert.Equal(t, mod, buf)
		})
	}
}

func TestDiffUsesRLE(t *testing.T) {
	orig := make([]byte, 64)
	mod := append([]byte(nil), orig...)
	copy(mod[8:], bytes.Repeat([]byte{0x90}, 32))

	p, err := Diff(orig, mod)
	require.NoError(t, err)
	require.Len(t, p.Records, 1)
	assert.True(t, p.Records[0].IsRLE())
	assert.Equal(t, uint32(8), p.Records[0].Offset)
	assert.Equal(t, uint16(32), p.Records[0].RLECount)
}

func TestDiffLonger(t *testing.T) {
	_, err := Diff([]byte{1, 2}, []byte{1, 2, 3})
	assert.Error(t, err)
}
