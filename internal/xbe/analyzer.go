package xbe

import (
	"fmt"
	"time"
)

// Info contains analyzed XBE information.
type Info struct {
	FilePath       string
	FileSize       int64
	Kind           Kind
	BaseAddress    uint32
	EntryPoint     uint32
	EntryPointOK   bool
	Timestamp      time.Time
	TitleID        string
	TitleName      string
	TitleVersion   uint32
	Regions        []string
	Media          []string
	DebugPath      string
	DebugName      string
	Sections       []SectionInfo
	Libraries      []LibraryInfo
	KernelImports  []uint32
	TLS            *TLSInfo
	DigestsChecked int
	DigestsValid   int
}

// SectionInfo contains information about an XBE section.
type SectionInfo struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	RawAddress     uint32
	RawSize        uint32
	Flags          uint32
	Permissions    string
	Entropy        float64
	DigestValid    bool
}

// LibraryInfo is a formatted library version record.
type LibraryInfo struct {
	Name    string
	Version string
	Flags   uint16
}

// Analyzer extracts information from an Image.
type Analyzer struct {
	img      *Image
	filePath string
	fileSize int64
}

// NewAnalyzer creates a new analyzer for the given image.
func NewAnalyzer(img *Image) *Analyzer {
	return &Analyzer{img: img}
}

// SetSource records where the image was read from, for reporting.
func (a *Analyzer) SetSource(path string, size int64) {
	a.filePath = path
	a.fileSize = size
}

// Analyze extracts all information from the image. Optional structures
// (TLS, kernel imports) that fail to decode are left empty.
func (a *Analyzer) Analyze() *Info {
	h := &a.img.Header
	c := &a.img.Certificate

	info := &Info{
		FilePath:     a.filePath,
		FileSize:     a.fileSize,
		Kind:         h.Kind(),
		BaseAddress:  h.BaseAddress,
		Timestamp:    time.Unix(int64(h.TimeDate), 0).UTC(),
		TitleID:      FormatTitleID(c.TitleID),
		TitleName:    c.Title(),
		TitleVersion: c.Version,
		Regions:      RegionNames(c.GameRegion),
		Media:        MediaNames(c.AllowedMedia),
		DebugPath:    a.img.DebugPathname,
		DebugName:    a.img.DebugUnicodeName(),
	}
	info.EntryPoint, info.EntryPointOK = h.DecodedEntryPoint()

	a.extractSections(info)
	a.extractLibraries(info)

	if ordinals, err := a.img.KernelImports(); err == nil {
		info.KernelImports = ordinals
	}
	if tls, err := a.img.TLS(); err == nil {
		info.TLS = tls
	}

	return info
}

func (a *Analyzer) extractSections(info *Info) {
	digests := a.img.VerifyDigests()
	for i, sh := range a.img.SectionHeaders {
		info.Sections = append(info.Sections, SectionInfo{
			Name:           a.img.SectionNames[i],
			VirtualAddress: sh.VirtualAddress,
			VirtualSize:    sh.VirtualSize,
			RawAddress:     sh.RawAddress,
			RawSize:        sh.RawSize,
			Flags:          sh.Flags,
			Permissions:    getSectionPermissions(sh.Flags),
			Entropy:        a.img.SectionEntropy(i),
			DigestValid:    digests[i].Valid,
		})
		info.DigestsChecked++
		if digests[i].Valid {
			info.DigestsValid++
		}
	}
}

func (a *Analyzer) extractLibraries(info *Info) {
	for _, l := range a.img.LibraryVersions {
		info.Libraries = append(info.Libraries, LibraryInfo{
			Name:    l.Name(),
			Version: fmt.Sprintf("%d.%d.%d", l.MajorVersion, l.MinorVersion, l.BuildVersion),
			Flags:   l.LibraryFlags,
		})
	}
}

// getSectionPermissions renders section flags as R/W/X. XBE sections are
// always readable.
func getSectionPermissions(flags uint32) string {
	perms := [3]rune{'R', '-', '-'}

	if flags&SectionWritable != 0 {
		perms[1] = 'W'
	}
	if flags&SectionExecutable != 0 {
		perms[2] = 'X'
	}

	return string(perms[:])
}

// FormatTitleID renders a title id as publisher letters and game number,
// e.g. "THQ-033".
func FormatTitleID(id uint32) string {
	hi := byte(id >> 24)
	lo := byte(id >> 16)
	if hi < 0x20 || hi > 0x7E || lo < 0x20 || lo > 0x7E {
		return fmt.Sprintf("%08X", id)
	}
	return fmt.Sprintf("%c%c-%03d", hi, lo, id&0xFFFF)
}

type flagName struct {
	bit  uint32
	name string
}

var regionFlags = []flagName{
	{0x00000001, "北美"},
	{0x00000002, "日本"},
	{0x00000004, "其他地区"},
	{0x80000000, "生产测试"},
}

var mediaFlags = []flagName{
	{0x00000001, "硬盘"},
	{0x00000002, "DVD X2"},
	{0x00000004, "DVD CD"},
	{0x00000008, "CD"},
	{0x00000010, "DVD-5 RO"},
	{0x00000020, "DVD-9 RO"},
	{0x00000040, "DVD-5 RW"},
	{0x00000080, "DVD-9 RW"},
	{0x00000100, "加密狗"},
	{0x00000200, "媒体板"},
	{0x40000000, "非安全硬盘"},
	{0x80000000, "非安全模式"},
}

// RegionNames lists the regions set in a certificate region mask.
func RegionNames(mask uint32) []string {
	return flagNames(mask, regionFlags)
}

// MediaNames lists the media types set in a certificate media mask.
func MediaNames(mask uint32) []string {
	return flagNames(mask, mediaFlags)
}

func flagNames(mask uint32, table []flagName) []string {
	var names []string
	for _, f := range table {
		if mask&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}
