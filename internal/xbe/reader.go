package xbe

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// maxTableEntries caps table counts when the source size is unknown.
const maxTableEntries = 0xFFFF

// Open reads and decodes the XBE at path.
func Open(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取XBE文件失败")
	}
	return Parse(data)
}

// Parse decodes an XBE held in memory.
func Parse(b []byte) (*Image, error) {
	return Read(bytes.NewReader(b))
}

// Read decodes an XBE from r. Structures are located by following the
// address fields of the image header.
func Read(r io.ReaderAt) (*Image, error) {
	d := &decoder{r: r, size: -1}
	if s, ok := r.(interface{ Size() int64 }); ok {
		d.size = s.Size()
	}
	return d.decode()
}

type decoder struct {
	r    io.ReaderAt
	size int64
	img  Image
}

func (d *decoder) decode() (*Image, error) {
	steps := []func() error{
		d.readImageHeader,
		d.readCertificate,
		d.readLogoBitmap,
		d.readSectionHeaders,
		d.readSectionNames,
		d.readDebugStrings,
		d.readSections,
		d.readLibraryVersions,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	img := d.img
	return &img, nil
}

func (d *decoder) readImageHeader() error {
	h := &d.img.Header
	if err := d.readStruct(0, ImageHeaderSize, h, "镜像头"); err != nil {
		return err
	}
	if h.MagicNumber != Magic {
		return malformed(nil, "魔数不匹配: %q", h.MagicNumber[:])
	}

	if h.SizeOfImageHeader > ImageHeaderSize {
		extra, err := d.readBytes(ImageHeaderSize, h.SizeOfImageHeader-ImageHeaderSize, "扩展镜像头")
		if err != nil {
			return err
		}
		d.img.HeaderExtra = extra
	}
	return nil
}

func (d *decoder) readCertificate() error {
	start, err := d.offset(d.img.Header.CertificateAddress, "证书")
	if err != nil {
		return err
	}

	c := &d.img.Certificate
	if err := d.readStruct(start, CertificateFixedSize, &c.CertificateFields, "证书"); err != nil {
		return err
	}
	if c.Size < CertificateFixedSize {
		return malformed(nil, "证书大小 0x%X 小于固定部分 0x%X", c.Size, CertificateFixedSize)
	}

	reserved, err := d.readBytes(start+CertificateFixedSize, c.Size-CertificateFixedSize, "证书保留区")
	if err != nil {
		return err
	}
	c.Reserved = reserved
	return nil
}

func (d *decoder) readLogoBitmap() error {
	h := &d.img.Header
	off, err := d.offset(h.LogoBitmapAddress, "Logo位图")
	if err != nil {
		return err
	}
	bitmap, err := d.readBytes(off, h.LogoBitmapSize, "Logo位图")
	if err != nil {
		return err
	}
	d.img.LogoBitmap = bitmap
	return nil
}

func (d *decoder) readSectionHeaders() error {
	h := &d.img.Header
	off, err := d.offset(h.SectionHeadersAddress, "节区头表")
	if err != nil {
		return err
	}
	if err := d.checkCount(h.NumberOfSections, SectionHeaderSize, "节区"); err != nil {
		return err
	}

	headers := make([]SectionHeader, h.NumberOfSections)
	if err := d.readStruct(off, int64(len(headers))*SectionHeaderSize, headers, "节区头表"); err != nil {
		return err
	}
	d.img.SectionHeaders = headers
	return nil
}

func (d *decoder) readSectionNames() error {
	names := make([]string, 0, len(d.img.SectionHeaders))
	for i, sh := range d.img.SectionHeaders {
		off, err := d.offset(sh.SectionNameAddress, "节区名称")
		if err != nil {
			return err
		}
		name, err := readCString(d.r, off)
		if err != nil {
			return errors.WithMessagef(err, "节区 %d 名称", i)
		}
		names = append(names, name)
	}
	d.img.SectionNames = names
	return nil
}

// readDebugStrings reads the filename and pathname independently even
// though the filename normally points into the pathname.
func (d *decoder) readDebugStrings() error {
	h := &d.img.Header

	off, err := d.offset(h.DebugFilenameAddress, "调试文件名")
	if err != nil {
		return err
	}
	if d.img.DebugFilename, err = readCString(d.r, off); err != nil {
		return errors.WithMessage(err, "调试文件名")
	}

	if off, err = d.offset(h.DebugPathnameAddress, "调试路径"); err != nil {
		return err
	}
	if d.img.DebugPathname, err = readCString(d.r, off); err != nil {
		return errors.WithMessage(err, "调试路径")
	}

	if off, err = d.offset(h.DebugUnicodeFilenameAddress, "Unicode调试文件名"); err != nil {
		return err
	}
	if d.img.DebugUnicodeFilename, err = readWString(d.r, off); err != nil {
		return errors.WithMessage(err, "Unicode调试文件名")
	}
	return nil
}

// readSections reads each payload at its raw address, which is already a
// file offset.
func (d *decoder) readSections() error {
	sections := make([]Section, 0, len(d.img.SectionHeaders))
	for i, sh := range d.img.SectionHeaders {
		data, err := d.readBytes(int64(sh.RawAddress), sh.RawSize, "节区数据")
		if err != nil {
			return errors.WithMessagef(err, "节区 %d (%s)", i, d.img.SectionNames[i])
		}
		sections = append(sections, Section{Bytes: data})
	}
	d.img.Sections = sections
	return nil
}

func (d *decoder) readLibraryVersions() error {
	h := &d.img.Header
	off, err := d.offset(h.LibraryVersionsAddress, "库版本表")
	if err != nil {
		return err
	}
	if err := d.checkCount(h.NumberOfLibraryVersions, LibraryVersionSize, "库版本"); err != nil {
		return err
	}

	versions := make([]LibraryVersion, h.NumberOfLibraryVersions)
	if err := d.readStruct(off, int64(len(versions))*LibraryVersionSize, versions, "库版本表"); err != nil {
		return err
	}
	d.img.LibraryVersions = versions
	return nil
}

func (d *decoder) offset(addr uint32, what string) (int64, error) {
	off, err := d.img.Header.Offset(addr)
	if err != nil {
		return 0, malformed(err, "%s地址", what)
	}
	return int64(off), nil
}

func (d *decoder) checkCount(n uint32, width int64, what string) error {
	if d.size >= 0 && int64(n)*width > d.size {
		return malformed(nil, "%s数量 %d 超出文件大小", what, n)
	}
	if d.size < 0 && n > maxTableEntries {
		return malformed(nil, "%s数量 %d 过大", what, n)
	}
	return nil
}

func (d *decoder) readStruct(off, n int64, v interface{}, what string) error {
	if err := binary.Read(io.NewSectionReader(d.r, off, n), binary.LittleEndian, v); err != nil {
		return malformed(err, "读取%s失败 (偏移 0x%X)", what, off)
	}
	return nil
}

func (d *decoder) readBytes(off int64, n uint32, what string) ([]byte, error) {
	if d.size >= 0 && off+int64(n) > d.size {
		return nil, malformed(io.ErrUnexpectedEOF, "%s越界 (偏移 0x%X, 大小 0x%X)", what, off, n)
	}
	src := io.NewSectionReader(d.r, off, int64(n))
	if d.size < 0 {
		// Declared sizes are untrusted; grow with the data actually read.
		buf, err := io.ReadAll(src)
		if err != nil {
			return nil, malformed(err, "读取%s失败 (偏移 0x%X)", what, off)
		}
		if uint32(len(buf)) != n {
			return nil, malformed(io.ErrUnexpectedEOF, "%s越界 (偏移 0x%X, 大小 0x%X)", what, off, n)
		}
		return buf, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, malformed(err, "读取%s失败 (偏移 0x%X)", what, off)
	}
	return buf, nil
}
