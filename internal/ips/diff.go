package ips

import "github.com/pkg/errors"

const (
	// mergeGap joins two changed runs separated by fewer equal bytes than a
	// record header costs.
	mergeGap = 5
	// minRLE is the shortest uniform run encoded as an RLE record.
	minRLE = 8
)

// Diff builds a patch that turns orig into mod. A shorter mod is expressed
// with a truncation length; a longer one cannot be, since patches never grow
// their target.
func Diff(orig, mod []byte) (*Patch, error) {
	if len(mod) > len(orig) {
		return nil, errors.Errorf("修改后数据 (%d 字节) 比原始数据 (%d 字节) 长", len(mod), len(orig))
	}
	if len(orig) > MaxOffset+1 {
		return nil, errors.Errorf("原始数据 %d 字节超出IPS寻址范围", len(orig))
	}

	p := &Patch{}
	for _, r := range changedRuns(orig, mod) {
		p.Records = append(p.Records, encodeRun(r.start, mod[r.start:r.end])...)
	}
	if len(mod) < len(orig) {
		p.Truncate = uint32(len(mod))
		p.HasTruncate = true
	}
	return p, nil
}

type span struct {
	start, end int
}

func changedRuns(orig, mod []byte) []span {
	var runs []span
	i := 0
	for i < len(mod) {
		if orig[i] == mod[i] {
			i++
			continue
		}
		start := i
		for i < len(mod) && orig[i] != mod[i] {
			i++
		}
		if n := len(runs); n > 0 && start-runs[n-1].end < mergeGap {
			runs[n-1].end = i
			continue
		}
		runs = append(runs, span{start, i})
	}

	// Records never start at the offset that spells "EOF".
	for k := range runs {
		if runs[k].start == eofOffset {
			runs[k].start--
		}
	}
	return runs
}

// encodeRun splits a changed run into records no larger than MaxRecordSize,
// using RLE for long uniform stretches.
func encodeRun(offset int, data []byte) []Record {
	var recs []Record
	for len(data) > 0 {
		n := uniformPrefix(data)
		if n >= minRLE {
			if n > MaxRecordSize {
				n = MaxRecordSize
			}
			if offset+n == eofOffset && n < len(data) {
				n--
			}
			recs = append(recs, Record{Offset: uint32(offset), RLECount: uint16(n), RLEValue: data[0]})
		} else {
			n = literalLength(data)
			if offset+n == eofOffset && n < len(data) {
				if n > 1 {
					n--
				} else {
					n++
				}
			}
			recs = append(recs, Record{Offset: uint32(offset), Data: append([]byte(nil), data[:n]...)})
		}
		offset += n
		data = data[n:]
	}
	return recs
}

// literalLength returns how much of data to emit literally: up to the next
// uniform stretch long enough for RLE, capped at MaxRecordSize.
func literalLength(data []byte) int {
	n := 0
	for n < len(data) && n < MaxRecordSize {
		if uniformPrefix(data[n:]) >= minRLE {
			break
		}
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

func uniformPrefix(data []byte) int {
	n := 1
	for n < len(data) && data[n] == data[0] {
		n++
	}
	return n
}
