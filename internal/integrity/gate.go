// Package integrity accepts or rejects a base image by its SHA-1 digest.
package integrity

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/pkg/errors"
)

// ErrIntegrityMismatch is returned when an image does not hash to the
// reference digest.
var ErrIntegrityMismatch = errors.New("镜像哈希不匹配")

// DefaultSum is the SHA-1 of the supported game's unmodified retail
// default.xbe.
var DefaultSum = [sha1.Size]byte{
	0xa9, 0xac, 0x85, 0x5c, 0x4e, 0xe8, 0xb4, 0x1b, 0x66, 0x1c,
	0x35, 0x78, 0xc9, 0x59, 0xc0, 0x24, 0xf1, 0x06, 0x8c, 0x47,
}

// Gate compares byte buffers against a reference digest bound at
// construction.
type Gate struct {
	ref [sha1.Size]byte
}

// New creates a gate for the given reference digest.
func New(ref [sha1.Size]byte) *Gate {
	return &Gate{ref: ref}
}

// Default returns the gate for the supported game image.
func Default() *Gate {
	return New(DefaultSum)
}

// FromHex creates a gate from a hex encoded digest.
func FromHex(s string) (*Gate, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "解析SHA-1失败")
	}
	if len(b) != sha1.Size {
		return nil, errors.Errorf("SHA-1长度应为 %d 字节, 实际为 %d", sha1.Size, len(b))
	}
	var ref [sha1.Size]byte
	copy(ref[:], b)
	return New(ref), nil
}

// Reference returns the reference digest.
func (g *Gate) Reference() [sha1.Size]byte {
	return g.ref
}

// Check reports whether b hashes to the reference digest.
func (g *Gate) Check(b []byte) bool {
	return Sum(b) == g.ref
}

// Verify is Check returning ErrIntegrityMismatch with both digests on failure.
func (g *Gate) Verify(b []byte) error {
	if sum := Sum(b); sum != g.ref {
		return errors.Wrapf(ErrIntegrityMismatch, "期望 %x, 实际 %x", g.ref, sum)
	}
	return nil
}

// Sum returns the SHA-1 of b.
func Sum(b []byte) [sha1.Size]byte {
	return sha1.Sum(b)
}
