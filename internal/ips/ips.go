// Package ips reads, applies and builds IPS byte patches.
//
// An IPS file is the magic "PATCH", a list of records and the marker "EOF",
// optionally followed by a 3-byte truncation length. A record is a 3-byte
// big-endian offset and a 2-byte big-endian size followed by size literal
// bytes; a size of zero introduces a run-length record of a 2-byte count and
// one fill byte.
package ips

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedPatch is returned when a payload cannot be decoded or a
	// patch cannot be encoded.
	ErrMalformedPatch = errors.New("IPS补丁格式错误")

	// ErrOutOfBounds is returned when a record reaches past the target buffer.
	ErrOutOfBounds = errors.New("补丁记录超出目标范围")
)

const (
	magic  = "PATCH"
	footer = "EOF"

	// MaxOffset is the largest offset a 3-byte field can address.
	MaxOffset = 0xFFFFFF
	// MaxRecordSize is the largest literal or run a single record carries.
	MaxRecordSize = 0xFFFF

	// eofOffset is the offset whose encoding reads as the "EOF" marker.
	eofOffset = 0x454F46
)

// Record is one patch hunk. A record with no Data is a run of RLECount
// copies of RLEValue.
type Record struct {
	Offset   uint32
	Data     []byte
	RLECount uint16
	RLEValue byte
}

// IsRLE reports whether the record is a run-length fill.
func (r Record) IsRLE() bool {
	return len(r.Data) == 0
}

// Len returns the number of target bytes the record writes.
func (r Record) Len() int {
	if r.IsRLE() {
		return int(r.RLECount)
	}
	return len(r.Data)
}

// Patch is a decoded IPS file.
type Patch struct {
	Records []Record
	// Truncate is the length the target is cut to after the records are
	// applied. Only meaningful when HasTruncate is set.
	Truncate    uint32
	HasTruncate bool
}

// Parse decodes an IPS payload.
//
// The marker "EOF" is also the encoding of offset 0x454F46. It ends the patch
// only when it is followed by nothing or by exactly a truncation length;
// otherwise it is read as a record at that offset.
func Parse(b []byte) (*Patch, error) {
	if !bytes.HasPrefix(b, []byte(magic)) {
		return nil, errors.Wrap(ErrMalformedPatch, "缺少PATCH文件头")
	}

	p := &Patch{}
	pos := len(magic)
	for {
		if len(b)-pos < 3 {
			return nil, errors.Wrapf(ErrMalformedPatch, "偏移 0x%X 处缺少EOF结束标记", pos)
		}
		if string(b[pos:pos+3]) == footer {
			switch len(b) - pos - 3 {
			case 0:
				return p, nil
			case 3:
				p.Truncate = uint24(b[pos+3:])
				p.HasTruncate = true
				return p, nil
			}
		}

		rec, n, err := parseRecord(b[pos:])
		if err != nil {
			return nil, errors.WithMessagef(err, "第 %d 条记录 (偏移 0x%X)", len(p.Records), pos)
		}
		p.Records = append(p.Records, rec)
		pos += n
	}
}

func parseRecord(b []byte) (Record, int, error) {
	if len(b) < 5 {
		return Record{}, 0, errors.Wrap(ErrMalformedPatch, "记录头被截断")
	}
	rec := Record{Offset: uint24(b)}
	size := int(binary.BigEndian.Uint16(b[3:5]))

	if size > 0 {
		if len(b) < 5+size {
			return Record{}, 0, errors.Wrapf(ErrMalformedPatch, "记录数据被截断 (需要 %d 字节)", size)
		}
		rec.Data = append([]byte(nil), b[5:5+size]...)
		return rec, 5 + size, nil
	}

	if len(b) < 8 {
		return Record{}, 0, errors.Wrap(ErrMalformedPatch, "RLE记录被截断")
	}
	rec.RLECount = binary.BigEndian.Uint16(b[5:7])
	rec.RLEValue = b[7]
	if rec.RLECount == 0 {
		return Record{}, 0, errors.Wrap(ErrMalformedPatch, "RLE记录长度为0")
	}
	return rec, 8, nil
}

// Apply writes every record into buf in file order. buf never grows: a
// record reaching past len(buf) fails with ErrOutOfBounds before any of its
// bytes are written, leaving earlier records applied.
func (p *Patch) Apply(buf []byte) error {
	for i, rec := range p.Records {
		end := uint64(rec.Offset) + uint64(rec.Len())
		if end > uint64(len(buf)) {
			return errors.Wrapf(ErrOutOfBounds, "第 %d 条记录 0x%X+0x%X 超出目标大小 0x%X",
				i, rec.Offset, rec.Len(), len(buf))
		}
		if rec.IsRLE() {
			fill(buf[rec.Offset:end], rec.RLEValue)
			continue
		}
		copy(buf[rec.Offset:], rec.Data)
	}
	return nil
}

// MarshalBinary encodes the patch as IPS.
func (p *Patch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(magic)

	for i, rec := range p.Records {
		if rec.Offset > MaxOffset {
			return nil, errors.Wrapf(ErrMalformedPatch, "第 %d 条记录偏移 0x%X 超出3字节范围", i, rec.Offset)
		}
		if len(rec.Data) > MaxRecordSize {
			return nil, errors.Wrapf(ErrMalformedPatch, "第 %d 条记录长度 %d 超出上限", i, len(rec.Data))
		}
		if rec.IsRLE() && rec.RLECount == 0 {
			return nil, errors.Wrapf(ErrMalformedPatch, "第 %d 条记录为空", i)
		}

		putUint24(&buf, rec.Offset)
		if rec.IsRLE() {
			putUint16(&buf, 0)
			putUint16(&buf, rec.RLECount)
			buf.WriteByte(rec.RLEValue)
			continue
		}
		putUint16(&buf, uint16(len(rec.Data)))
		buf.Write(rec.Data)
	}

	buf.WriteString(footer)
	if p.HasTruncate {
		if p.Truncate > MaxOffset {
			return nil, errors.Wrapf(ErrMalformedPatch, "截断长度 0x%X 超出3字节范围", p.Truncate)
		}
		putUint24(&buf, p.Truncate)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an IPS payload into p.
func (p *Patch) UnmarshalBinary(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint24(buf *bytes.Buffer, v uint32) {
	buf.Write([]byte{byte(v >> 16), byte(v >> 8), byte(v)})
}

func putUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
