package integrity

import (
	"crypto/sha1"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate(t *testing.T) {
	data := []byte("XBEH default.xbe")
	g := New(sha1.Sum(data))

	tests := []struct {
		name  string
		input []byte
		want  bool
	}{
		{"Reference bytes", data, true},
		{"Bit flip", append([]byte{data[0] ^ 0x01}, data[1:]...), false},
		{"Truncated", data[:len(data)-1], false},
		{"Empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Check(tt.input))

			err := g.Verify(tt.input)
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrIntegrityMismatch), "got %v", err)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	g := Default()
	assert.Equal(t, DefaultSum, g.Reference())
	assert.False(t, g.Check([]byte("not the game")))
}

func TestFromHex(t *testing.T) {
	g, err := FromHex("a9ac855c4ee8b41b661c3578c959c024f1068c47")
	require.NoError(t, err)
	assert.Equal(t, DefaultSum, g.Reference())

	_, err = FromHex("zz")
	assert.Error(t, err)
	_, err = FromHex("a9ac")
	assert.Error(t, err)
}
