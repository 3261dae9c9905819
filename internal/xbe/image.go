// Package xbe reads, modifies and writes Xbox executable (XBE) images.
package xbe

// Fixed on-disk sizes of the XBE structures.
const (
	ImageHeaderSize       = 0x178
	CertificateFixedSize  = 0x1D0
	SectionHeaderSize     = 0x38
	LibraryVersionSize    = 0x10
	PageSize              = 0x1000
	libraryVersionAlign   = 4
	sectionDigestSize     = 0x14
	certificateTitleBytes = 0x50
)

// Magic is the four byte signature every XBE starts with.
var Magic = [4]byte{'X', 'B', 'E', 'H'}

// Image is a decoded XBE. SectionHeaders, SectionNames and Sections are
// parallel slices in header-table order.
type Image struct {
	Header ImageHeader
	// HeaderExtra holds the bytes between the fixed header and
	// Header.SizeOfImageHeader, if any.
	HeaderExtra          []byte
	Certificate          Certificate
	SectionHeaders       []SectionHeader
	SectionNames         []string
	LibraryVersions      []LibraryVersion
	DebugPathname        string
	DebugFilename        string
	DebugUnicodeFilename []uint16
	LogoBitmap           []byte
	Sections             []Section
}

// ImageHeader is the fixed 0x178 byte XBE image header.
type ImageHeader struct {
	MagicNumber                     [4]byte
	DigitalSignature                [256]byte
	BaseAddress                     uint32
	SizeOfHeaders                   uint32
	SizeOfImage                     uint32
	SizeOfImageHeader               uint32
	TimeDate                        uint32
	CertificateAddress              uint32
	NumberOfSections                uint32
	SectionHeadersAddress           uint32
	InitializationFlags             uint32
	EntryPoint                      uint32 // XOR-encoded, see DecodedEntryPoint.
	TLSAddress                      uint32
	PEStackCommit                   uint32
	PEHeapReserve                   uint32
	PEHeapCommit                    uint32
	PEBaseAddress                   uint32
	PESizeOfImage                   uint32
	PEChecksum                      uint32
	PETimeDate                      uint32
	DebugPathnameAddress            uint32
	DebugFilenameAddress            uint32
	DebugUnicodeFilenameAddress     uint32
	KernelImageThunkAddress         uint32 // XOR-encoded, see KernelThunkAddress.
	NonKernelImportDirectoryAddress uint32
	NumberOfLibraryVersions         uint32
	LibraryVersionsAddress          uint32
	KernelLibraryVersionAddress     uint32
	XAPILibraryVersionAddress       uint32
	LogoBitmapAddress               uint32
	LogoBitmapSize                  uint32
}

// CertificateFields is the fixed part of the certificate.
type CertificateFields struct {
	Size                   uint32
	TimeDate               uint32
	TitleID                uint32
	TitleName              [certificateTitleBytes]byte // UTF-16LE, NUL padded.
	AlternateTitleIDs      [0x40]byte
	AllowedMedia           uint32
	GameRegion             uint32
	GameRatings            uint32
	DiskNumber             uint32
	Version                uint32
	LANKey                 [0x10]byte
	SignatureKey           [0x10]byte
	AlternateSignatureKeys [0x100]byte
}

// Certificate is the title certificate. Reserved is whatever follows the
// fixed fields up to Size; its content is not interpreted.
type Certificate struct {
	CertificateFields
	Reserved []byte
}

// SectionHeader describes one section. Addresses other than RawAddress
// are virtual.
type SectionHeader struct {
	Flags                            uint32
	VirtualAddress                   uint32
	VirtualSize                      uint32
	RawAddress                       uint32
	RawSize                          uint32
	SectionNameAddress               uint32
	SectionNameReferenceCount        uint32
	HeadSharedPageReferenceCountAddr uint32
	TailSharedPageReferenceCountAddr uint32
	SectionDigest                    [sectionDigestSize]byte
}

// Section flag bits.
const (
	SectionWritable         = 0x00000001
	SectionPreload          = 0x00000002
	SectionExecutable       = 0x00000004
	SectionInsertedFile     = 0x00000008
	SectionHeadPageReadOnly = 0x00000010
	SectionTailPageReadOnly = 0x00000020
)

// LibraryVersion records the XDK library a title was linked against.
type LibraryVersion struct {
	LibraryName  [8]byte
	MajorVersion uint16
	MinorVersion uint16
	BuildVersion uint16
	LibraryFlags uint16
}

// Name returns the library name without NUL padding.
func (l LibraryVersion) Name() string {
	return trimNUL(l.LibraryName[:])
}

// Section is the raw payload of one section.
type Section struct {
	Bytes []byte
}
