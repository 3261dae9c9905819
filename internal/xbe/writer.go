package xbe

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// WriteOptions tunes serialization.
type WriteOptions struct {
	// AllowLayoutDrift disables the checks that section names and section
	// payloads land at the addresses recorded in their headers. With it set
	// the writer behaves like a plain packer and the caller owns consistency.
	AllowLayoutDrift bool
}

// Write serializes img into a loader-ready byte slice. img is not modified.
func Write(img *Image) ([]byte, error) {
	return WriteWithOptions(img, WriteOptions{})
}

// WriteTo serializes img to w.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	b, err := Write(img)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// WriteWithOptions serializes img. Padding, name packing, alignment and
// physical section order are re-derived here.
func WriteWithOptions(img *Image, opts WriteOptions) ([]byte, error) {
	if err := checkConsistency(img); err != nil {
		return nil, err
	}

	e := &encoder{img: img, opts: opts}
	steps := []func() error{
		e.writeImageHeader,
		e.writeCertificate,
		e.writeSectionHeaders,
		e.writeSectionNames,
		e.writeLibraryVersions,
		e.writeDebugStrings,
		e.writeLogoBitmap,
		e.writeSections,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	e.buf.alignTo(PageSize)
	return e.buf.Bytes(), nil
}

func checkConsistency(img *Image) error {
	h := &img.Header
	n := len(img.SectionHeaders)
	if n != len(img.Sections) || uint32(n) != h.NumberOfSections || n != len(img.SectionNames) {
		return layoutErr("节区数量不一致: 头=%d 数据=%d 名称=%d 声明=%d",
			n, len(img.Sections), len(img.SectionNames), h.NumberOfSections)
	}
	if uint32(len(img.LibraryVersions)) != h.NumberOfLibraryVersions {
		return layoutErr("库版本数量不一致: %d != %d", len(img.LibraryVersions), h.NumberOfLibraryVersions)
	}
	if img.Certificate.Size < CertificateFixedSize ||
		uint32(len(img.Certificate.Reserved)) != img.Certificate.Size-CertificateFixedSize {
		return layoutErr("证书保留区长度 %d 与证书大小 0x%X 不符", len(img.Certificate.Reserved), img.Certificate.Size)
	}
	if uint32(len(img.LogoBitmap)) != h.LogoBitmapSize {
		return layoutErr("Logo位图长度 %d 与声明大小 %d 不符", len(img.LogoBitmap), h.LogoBitmapSize)
	}
	for i, sh := range img.SectionHeaders {
		if uint32(len(img.Sections[i].Bytes)) != sh.RawSize {
			return layoutErr("节区 %s 数据长度 %d 与原始大小 %d 不符", img.SectionNames[i], len(img.Sections[i].Bytes), sh.RawSize)
		}
	}
	return nil
}

type encoder struct {
	img  *Image
	opts WriteOptions
	buf  imageBuffer
}

func (e *encoder) offset(addr uint32, what string) (uint32, error) {
	off, err := e.img.Header.Offset(addr)
	if err != nil {
		return 0, errors.WithMessage(&wrappedError{cause: err, kind: ErrLayout}, what)
	}
	return off, nil
}

// padToAddress pads with zeros up to the file offset of addr.
func (e *encoder) padToAddress(addr uint32, what string) error {
	off, err := e.offset(addr, what)
	if err != nil {
		return err
	}
	return e.buf.padTo(off, what)
}

func (e *encoder) writeImageHeader() error {
	e.buf.writeStruct(&e.img.Header)
	e.buf.Write(e.img.HeaderExtra)
	if size := e.img.Header.SizeOfImageHeader; size > e.buf.pos() {
		e.buf.zeros(int(size - e.buf.pos()))
	}
	return nil
}

func (e *encoder) writeCertificate() error {
	if err := e.padToAddress(e.img.Header.CertificateAddress, "证书"); err != nil {
		return err
	}
	e.buf.writeStruct(&e.img.Certificate.CertificateFields)
	e.buf.Write(e.img.Certificate.Reserved)
	return nil
}

// writeSectionHeaders writes the table in declared order followed by the
// shared page reference counts, one 16-bit slot per section plus one.
func (e *encoder) writeSectionHeaders() error {
	if err := e.padToAddress(e.img.Header.SectionHeadersAddress, "节区头表"); err != nil {
		return err
	}
	e.buf.writeStruct(e.img.SectionHeaders)
	e.buf.zeros(len(e.img.SectionHeaders)*2 + 2)
	return nil
}

// writeSectionNames packs the names directly after the reference counts.
func (e *encoder) writeSectionNames() error {
	for i, name := range e.img.SectionNames {
		if !e.opts.AllowLayoutDrift {
			want, err := e.offset(e.img.SectionHeaders[i].SectionNameAddress, "节区名称")
			if err != nil {
				return err
			}
			if got := e.buf.pos(); got != want {
				return layoutErr("节区名称 %q 应位于偏移 0x%X, 实际为 0x%X", name, want, got)
			}
		}
		e.buf.cstring(name)
	}
	return nil
}

func (e *encoder) writeLibraryVersions() error {
	e.buf.alignTo(libraryVersionAlign)
	if err := e.padToAddress(e.img.Header.LibraryVersionsAddress, "库版本表"); err != nil {
		return err
	}
	e.buf.writeStruct(e.img.LibraryVersions)
	return nil
}

// writeDebugStrings writes the unicode filename and then the pathname. The
// 8-bit filename is normally the tail of the pathname and is only written
// on its own when its address lies outside the pathname.
func (e *encoder) writeDebugStrings() error {
	h := &e.img.Header
	if err := e.padToAddress(h.DebugUnicodeFilenameAddress, "Unicode调试文件名"); err != nil {
		return err
	}
	for _, u := range e.img.DebugUnicodeFilename {
		e.buf.u16(u)
	}
	e.buf.u16(0)

	if err := e.padToAddress(h.DebugPathnameAddress, "调试路径"); err != nil {
		return err
	}
	pathStart := e.buf.pos()
	e.buf.cstring(e.img.DebugPathname)

	fileOff, err := e.offset(h.DebugFilenameAddress, "调试文件名")
	if err != nil {
		return err
	}
	pathEnd := pathStart + uint32(len(e.img.DebugPathname))
	if fileOff >= pathStart && fileOff <= pathEnd {
		if tail := e.img.DebugPathname[fileOff-pathStart:]; tail != e.img.DebugFilename {
			return layoutErr("调试文件名 %q 与路径尾部 %q 不符", e.img.DebugFilename, tail)
		}
		return nil
	}
	if err := e.buf.padTo(fileOff, "调试文件名"); err != nil {
		return err
	}
	e.buf.cstring(e.img.DebugFilename)
	return nil
}

func (e *encoder) writeLogoBitmap() error {
	if err := e.padToAddress(e.img.Header.LogoBitmapAddress, "Logo位图"); err != nil {
		return err
	}
	e.buf.Write(e.img.LogoBitmap)
	e.buf.alignTo(PageSize)
	return nil
}

// writeSections lays out payloads by ascending raw address, each starting
// on a page boundary.
func (e *encoder) writeSections() error {
	for _, p := range placeSections(e.img) {
		if !e.opts.AllowLayoutDrift && e.buf.pos() != p.header.RawAddress {
			return layoutErr("节区 %s 原始地址为 0x%X, 布局位置为 0x%X",
				e.img.SectionNames[p.index], p.header.RawAddress, e.buf.pos())
		}
		e.buf.Write(p.data)
		e.buf.alignTo(PageSize)
	}
	return nil
}

// imageBuffer is the single growable output buffer.
type imageBuffer struct {
	bytes.Buffer
}

func (b *imageBuffer) pos() uint32 {
	return uint32(b.Len())
}

// padTo appends zeros up to off. Being past off already means two
// structures overlap.
func (b *imageBuffer) padTo(off uint32, what string) error {
	if b.pos() > off {
		return layoutErr("%s 起始偏移 0x%X 与前面的数据重叠 (当前 0x%X)", what, off, b.pos())
	}
	b.zeros(int(off - b.pos()))
	return nil
}

func (b *imageBuffer) alignTo(n uint32) {
	b.zeros(int(alignUp(b.pos(), n) - b.pos()))
}

func (b *imageBuffer) zeros(n int) {
	for i := 0; i < n; i++ {
		b.WriteByte(0)
	}
}

func (b *imageBuffer) cstring(s string) {
	b.WriteString(s)
	b.WriteByte(0)
}

func (b *imageBuffer) u16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

// writeStruct encodes fixed-size data. Writes to a bytes.Buffer cannot
// fail, and every type passed here has a fixed size.
func (b *imageBuffer) writeStruct(v interface{}) {
	_ = binary.Write(&b.Buffer, binary.LittleEndian, v)
}
