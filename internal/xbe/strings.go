package xbe

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// maxStringLength bounds NUL-terminated reads so a missing terminator in a
// corrupt image fails instead of scanning the whole file.
const maxStringLength = 0x1000

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// readCString reads an 8-bit NUL-terminated string. The terminator is not
// part of the result.
func readCString(r io.ReaderAt, offset int64) (string, error) {
	var result []byte
	buf := make([]byte, 1)

	for i := 0; ; i++ {
		if i >= maxStringLength {
			return "", malformed(nil, "偏移 0x%X 处字符串缺少结束符", offset)
		}
		if _, err := r.ReadAt(buf, offset+int64(i)); err != nil {
			return "", malformed(err, "读取偏移 0x%X 处字符串失败", offset)
		}
		if buf[0] == 0 {
			break
		}
		result = append(result, buf[0])
	}

	if !utf8.Valid(result) {
		return "", malformed(nil, "偏移 0x%X 处字符串不是有效的UTF-8", offset)
	}
	return string(result), nil
}

// readWString reads a NUL-terminated string of 16-bit code units.
func readWString(r io.ReaderAt, offset int64) ([]uint16, error) {
	var result []uint16
	buf := make([]byte, 2)

	for i := 0; ; i++ {
		if i >= maxStringLength {
			return nil, malformed(nil, "偏移 0x%X 处宽字符串缺少结束符", offset)
		}
		if _, err := r.ReadAt(buf, offset+int64(i*2)); err != nil {
			return nil, malformed(err, "读取偏移 0x%X 处宽字符串失败", offset)
		}
		unit := binary.LittleEndian.Uint16(buf)
		if unit == 0 {
			break
		}
		result = append(result, unit)
	}

	return result, nil
}

// DecodeUTF16 converts little-endian code units to a Go string. Unpaired
// surrogates become U+FFFD.
func DecodeUTF16(units []uint16) string {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	out, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return string(out)
}

// EncodeUTF16 converts s to little-endian code units, without a terminator.
func EncodeUTF16(s string) []uint16 {
	raw, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return units
}

// Title decodes the certificate's UTF-16 title.
func (c *Certificate) Title() string {
	units := make([]uint16, 0, certificateTitleBytes/2)
	for i := 0; i+1 < len(c.TitleName); i += 2 {
		u := binary.LittleEndian.Uint16(c.TitleName[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return DecodeUTF16(units)
}

// SetTitle stores name in the certificate, truncated to 39 characters.
func (c *Certificate) SetTitle(name string) {
	units := EncodeUTF16(name)
	if max := certificateTitleBytes/2 - 1; len(units) > max {
		units = units[:max]
	}
	c.TitleName = [certificateTitleBytes]byte{}
	for i, u := range units {
		binary.LittleEndian.PutUint16(c.TitleName[i*2:], u)
	}
}

// DebugUnicodeName returns the decoded 16-bit debug filename.
func (img *Image) DebugUnicodeName() string {
	return DecodeUTF16(img.DebugUnicodeFilename)
}

func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
