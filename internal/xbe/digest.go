package xbe

import (
	"crypto/sha1"
	"encoding/binary"
)

// DigestInfo contains section digest verification results.
type DigestInfo struct {
	Section  string
	Stored   [sectionDigestSize]byte
	Computed [sectionDigestSize]byte
	Valid    bool
}

// SectionDigest computes the digest the loader checks for a section: SHA-1
// over the little-endian payload length followed by the payload.
func SectionDigest(data []byte) [sectionDigestSize]byte {
	h := sha1.New()
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(data)))
	h.Write(size[:])
	h.Write(data)

	var sum [sectionDigestSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// VerifyDigests compares every section payload against the digest stored
// in its header. Digests are reported, never rewritten.
func (img *Image) VerifyDigests() []DigestInfo {
	infos := make([]DigestInfo, 0, len(img.SectionHeaders))
	for i, sh := range img.SectionHeaders {
		computed := SectionDigest(img.Sections[i].Bytes)
		infos = append(infos, DigestInfo{
			Section:  img.SectionNames[i],
			Stored:   sh.SectionDigest,
			Computed: computed,
			Valid:    computed == sh.SectionDigest,
		})
	}
	return infos
}
