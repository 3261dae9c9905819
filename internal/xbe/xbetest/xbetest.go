// Package xbetest builds small, self-consistent XBE images for tests.
package xbetest

import (
	"encoding/binary"
	"strings"

	"github.com/ZacharyZcR/XBEPatch/internal/xbe"
)

// Base is the base address used by every fixture.
const Base = 0x10000

// RetailEntryKey is the XOR key retail images encode their entry point with.
const RetailEntryKey = 0xA8FC57AB

// RetailThunkKey is the XOR key retail images encode the kernel thunk
// address with.
const RetailThunkKey = 0x5B6D40B6

// SectionSpec describes one fixture section.
type SectionSpec struct {
	Name  string
	Data  []byte
	Flags uint32
	// VirtualSize defaults to len(Data) when zero.
	VirtualSize uint32
}

// Options controls the fixture layout.
type Options struct {
	Sections []SectionSpec
	// RawOrder lists section indices in the order their payloads are
	// stored on disk. Nil means table order.
	RawOrder  []int
	Libraries []string
	DebugPath string
	Title     string
	// EntrySection and ThunkSection name the sections the entry point and
	// kernel thunk table point at (offset 0).
	EntrySection string
	ThunkSection string
}

// Code is the fixture's .text payload: a few instructions followed by an
// int3 padding run usable as a code cave.
var Code = append([]byte{0x55, 0x8B, 0xEC, 0x33, 0xC0, 0x5D, 0xC3}, repeat(0xCC, 64)...)

// Thunks is the fixture's kernel thunk table: ordinals 1 and 49, then the
// terminator.
var Thunks = []uint32{0x80000001, 0x80000031, 0}

// DefaultOptions returns a three section layout whose payloads are stored
// in a different order than the header table lists them.
func DefaultOptions() Options {
	thunks := make([]byte, len(Thunks)*4)
	for i, t := range Thunks {
		binary.LittleEndian.PutUint32(thunks[i*4:], t)
	}
	return Options{
		Sections: []SectionSpec{
			{Name: ".text", Data: Code, Flags: xbe.SectionExecutable | xbe.SectionPreload},
			{Name: ".rdata", Data: thunks, Flags: xbe.SectionPreload},
			{Name: ".data", Data: []byte("chum bucket lab data"), Flags: xbe.SectionWritable, VirtualSize: 0x100},
		},
		RawOrder:     []int{1, 0, 2},
		Libraries:    []string{"XAPILIB", "XBOXKRNL", "LIBC"},
		DebugPath:    `D:\game\main.xbe`,
		Title:        "Test Title",
		EntrySection: ".text",
		ThunkSection: ".rdata",
	}
}

// Default builds the DefaultOptions image.
func Default() *xbe.Image {
	return Build(DefaultOptions())
}

// Bytes serializes the DefaultOptions image.
func Bytes() []byte {
	b, err := xbe.Write(Default())
	if err != nil {
		panic(err)
	}
	return b
}

// Build lays out an image the way the writer packs the header region, so
// that the result serializes without drift and parses back to itself.
func Build(opts Options) *xbe.Image {
	img := &xbe.Image{}
	h := &img.Header
	h.MagicNumber = xbe.Magic
	h.BaseAddress = Base
	h.SizeOfImageHeader = xbe.ImageHeaderSize
	h.TimeDate = 0x3F000000
	h.InitializationFlags = 0x5

	addr := uint32(Base + xbe.ImageHeaderSize)

	// Certificate with a short reserved tail.
	h.CertificateAddress = addr
	img.Certificate.Size = xbe.CertificateFixedSize + 0x1C
	img.Certificate.Reserved = repeat(0xEE, 0x1C)
	img.Certificate.TitleID = 0x54480021
	img.Certificate.GameRegion = 0x1
	img.Certificate.AllowedMedia = 0x2
	img.Certificate.Version = 3
	img.Certificate.SetTitle(opts.Title)
	addr += img.Certificate.Size

	// Section table, reference counts, then packed names.
	n := uint32(len(opts.Sections))
	h.NumberOfSections = n
	h.SectionHeadersAddress = addr
	refStart := addr + n*xbe.SectionHeaderSize
	addr = refStart + n*2 + 2

	img.SectionHeaders = make([]xbe.SectionHeader, n)
	img.SectionNames = make([]string, n)
	img.Sections = make([]xbe.Section, n)
	for i, s := range opts.Sections {
		sh := &img.SectionHeaders[i]
		sh.Flags = s.Flags
		sh.RawSize = uint32(len(s.Data))
		sh.VirtualSize = s.VirtualSize
		if sh.VirtualSize == 0 {
			sh.VirtualSize = sh.RawSize
		}
		sh.SectionNameAddress = addr
		sh.HeadSharedPageReferenceCountAddr = refStart + uint32(i)*2
		sh.TailSharedPageReferenceCountAddr = refStart + uint32(i)*2 + 2
		sh.SectionDigest = xbe.SectionDigest(s.Data)
		img.SectionNames[i] = s.Name
		img.Sections[i] = xbe.Section{Bytes: append([]byte(nil), s.Data...)}
		addr += uint32(len(s.Name)) + 1
	}

	// Library versions, 4-byte aligned.
	addr = alignUp(addr, 4)
	h.NumberOfLibraryVersions = uint32(len(opts.Libraries))
	h.LibraryVersionsAddress = addr
	img.LibraryVersions = make([]xbe.LibraryVersion, len(opts.Libraries))
	for i, name := range opts.Libraries {
		lv := &img.LibraryVersions[i]
		copy(lv.LibraryName[:], name)
		lv.MajorVersion = 1
		lv.MinorVersion = 0
		lv.BuildVersion = 5849
		lv.LibraryFlags = 0x4000
		switch name {
		case "XBOXKRNL":
			h.KernelLibraryVersionAddress = addr + uint32(i)*xbe.LibraryVersionSize
		case "XAPILIB":
			h.XAPILibraryVersionAddress = addr + uint32(i)*xbe.LibraryVersionSize
		}
	}
	addr += uint32(len(opts.Libraries)) * xbe.LibraryVersionSize

	// Debug strings: unicode filename, then the pathname with the 8-bit
	// filename pointing at its last component.
	filename := opts.DebugPath[strings.LastIndexByte(opts.DebugPath, '\\')+1:]
	img.DebugPathname = opts.DebugPath
	img.DebugFilename = filename
	img.DebugUnicodeFilename = xbe.EncodeUTF16(filename)
	h.DebugUnicodeFilenameAddress = addr
	addr += uint32(len(img.DebugUnicodeFilename))*2 + 2
	h.DebugPathnameAddress = addr
	h.DebugFilenameAddress = addr + uint32(len(opts.DebugPath)-len(filename))
	addr += uint32(len(opts.DebugPath)) + 1

	// Logo bitmap closes the header region.
	img.LogoBitmap = []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80, 0x90}
	h.LogoBitmapAddress = addr
	h.LogoBitmapSize = uint32(len(img.LogoBitmap))
	addr += h.LogoBitmapSize
	h.SizeOfHeaders = addr - Base

	// Payloads: page aligned, in RawOrder. Virtual addresses mirror the
	// raw layout.
	order := opts.RawOrder
	if order == nil {
		for i := range opts.Sections {
			order = append(order, i)
		}
	}
	raw := alignUp(h.SizeOfHeaders, xbe.PageSize)
	for _, i := range order {
		sh := &img.SectionHeaders[i]
		sh.RawAddress = raw
		sh.VirtualAddress = Base + raw
		raw = alignUp(raw+sh.RawSize, xbe.PageSize)
	}

	var end uint32
	for _, sh := range img.SectionHeaders {
		if e := sh.VirtualAddress + sh.VirtualSize; e > end {
			end = e
		}
	}
	h.SizeOfImage = end - Base

	if i, ok := img.SectionByName(opts.EntrySection); ok {
		h.EntryPoint = img.SectionHeaders[i].VirtualAddress ^ RetailEntryKey
	}
	if i, ok := img.SectionByName(opts.ThunkSection); ok {
		h.KernelImageThunkAddress = img.SectionHeaders[i].VirtualAddress ^ RetailThunkKey
	}

	return img
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) / a * a
}

func repeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
