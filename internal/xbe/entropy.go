package xbe

import "math"

// CalculateEntropy calculates Shannon entropy for a given data block.
// Entropy value ranges from 0 (completely uniform) to 8 (completely random).
// Compressed or encrypted payloads sit above 7.
func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	dataLen := float64(len(data))

	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / dataLen
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// SectionEntropy returns the entropy of section i's raw payload.
func (img *Image) SectionEntropy(i int) float64 {
	if i < 0 || i >= len(img.Sections) {
		return 0.0
	}
	return CalculateEntropy(img.Sections[i].Bytes)
}
