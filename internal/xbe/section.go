package xbe

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Each new section grows the header table by one record and the shared
// page reference count block by one 16-bit slot.
const sectionTableGrowth = SectionHeaderSize + 2

// SectionInjector handles adding new sections to an Image.
type SectionInjector struct {
	img *Image
}

// NewSectionInjector creates a new section injector.
func NewSectionInjector(img *Image) *SectionInjector {
	return &SectionInjector{img: img}
}

// InjectSection appends a section holding data. The header region is
// rearranged so that the result still serializes with Write: names are
// moved behind the larger table, every structure after the table is shifted
// by the growth rounded up to 4 bytes, and section payloads move down a
// page at a time if the header region outgrows the first page they used.
// Virtual addresses never move: if the mapped headers would reach the
// lowest section, InjectSection fails with ErrLayout and img is unchanged.
//
// The new section is mapped at the first page after the highest virtual
// address and stored at the first page after the last payload.
func (s *SectionInjector) InjectSection(name string, data []byte, flags uint32) (SectionHeader, error) {
	img := s.img
	if err := validateSectionName(name); err != nil {
		return SectionHeader{}, err
	}
	if err := checkConsistency(img); err != nil {
		return SectionHeader{}, errors.WithMessage(err, "添加节区前")
	}

	savedHeader := img.Header
	savedSections := append([]SectionHeader(nil), img.SectionHeaders...)
	header, err := s.inject(name, data, flags)
	if err != nil {
		img.Header = savedHeader
		img.SectionHeaders = savedSections
		return SectionHeader{}, err
	}
	return header, nil
}

func (s *SectionInjector) inject(name string, data []byte, flags uint32) (SectionHeader, error) {
	img := s.img
	h := &img.Header
	n := uint32(len(img.SectionHeaders))
	tableStart := h.SectionHeadersAddress
	oldTableEnd := tableStart + n*SectionHeaderSize + n*2 + 2
	namesEnd := s.namesEnd(oldTableEnd)

	growth := sectionTableGrowth + uint32(len(name)) + 1
	delta := alignUp(growth, libraryVersionAlign)

	// Everything behind the table moves. Shift before SizeOfHeaders grows
	// so the range check sees the old header region.
	h.ShiftHeaderAddresses(oldTableEnd, delta)
	h.SizeOfHeaders += delta

	for i := range img.SectionHeaders {
		sh := &img.SectionHeaders[i]
		if sh.SectionNameAddress >= oldTableEnd {
			sh.SectionNameAddress += sectionTableGrowth
		}
		sh.HeadSharedPageReferenceCountAddr = shiftRefCount(sh.HeadSharedPageReferenceCountAddr, tableStart, oldTableEnd)
		sh.TailSharedPageReferenceCountAddr = shiftRefCount(sh.TailSharedPageReferenceCountAddr, tableStart, oldTableEnd)
	}

	if err := s.checkMappedHeaders(); err != nil {
		return SectionHeader{}, err
	}
	if err := s.makeRoomForHeaders(); err != nil {
		return SectionHeader{}, err
	}

	headerEnd, err := img.headerEnd()
	if err != nil {
		return SectionHeader{}, errors.WithMessage(err, "计算头部结束位置")
	}

	virtualAddress := alignUp(img.virtualEnd(), PageSize)
	rawAddress := alignUp(img.rawEnd(), PageSize)
	if n == 0 {
		virtualAddress = h.BaseAddress + alignUp(h.SizeOfHeaders, PageSize)
		rawAddress = alignUp(headerEnd, PageSize)
	}

	refStart := tableStart + (n+1)*SectionHeaderSize
	header := SectionHeader{
		Flags:                            flags,
		VirtualAddress:                   virtualAddress,
		VirtualSize:                      uint32(len(data)),
		RawAddress:                       rawAddress,
		RawSize:                          uint32(len(data)),
		SectionNameAddress:               namesEnd + sectionTableGrowth,
		HeadSharedPageReferenceCountAddr: refStart + n*2,
		TailSharedPageReferenceCountAddr: refStart + n*2 + 2,
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	img.SectionHeaders = append(img.SectionHeaders, header)
	img.SectionNames = append(img.SectionNames, name)
	img.Sections = append(img.Sections, Section{Bytes: payload})
	h.NumberOfSections++

	if end := virtualAddress + header.VirtualSize - h.BaseAddress; end > h.SizeOfImage {
		h.SizeOfImage = end
	}

	return header, nil
}

// namesEnd returns the address just past the last packed section name.
func (s *SectionInjector) namesEnd(tableEnd uint32) uint32 {
	end := tableEnd
	for i, sh := range s.img.SectionHeaders {
		if e := sh.SectionNameAddress + uint32(len(s.img.SectionNames[i])) + 1; e > end {
			end = e
		}
	}
	return end
}

// checkMappedHeaders fails when the header pages the loader maps at the base
// address would cover the lowest section.
func (s *SectionInjector) checkMappedHeaders() error {
	img := s.img
	if len(img.SectionHeaders) == 0 {
		return nil
	}

	minVirtual := img.SectionHeaders[0].VirtualAddress
	for _, sh := range img.SectionHeaders[1:] {
		if sh.VirtualAddress < minVirtual {
			minVirtual = sh.VirtualAddress
		}
	}

	mappedEnd := uint64(img.Header.BaseAddress) + uint64(alignUp(img.Header.SizeOfHeaders, PageSize))
	if mappedEnd > uint64(minVirtual) {
		return layoutErr("头部映射范围 0x%08X-0x%08X 将覆盖节区虚拟地址 0x%08X",
			img.Header.BaseAddress, mappedEnd, minVirtual)
	}
	return nil
}

// makeRoomForHeaders moves all payloads down by whole pages when the grown
// header region would run into the first of them.
func (s *SectionInjector) makeRoomForHeaders() error {
	img := s.img
	if len(img.SectionHeaders) == 0 {
		return nil
	}

	headerEnd, err := img.headerEnd()
	if err != nil {
		return errors.WithMessage(err, "计算头部结束位置")
	}

	minRaw := img.SectionHeaders[0].RawAddress
	for _, sh := range img.SectionHeaders[1:] {
		if sh.RawAddress < minRaw {
			minRaw = sh.RawAddress
		}
	}

	pageEnd := alignUp(headerEnd, PageSize)
	if pageEnd <= minRaw {
		return nil
	}

	shift := alignUp(pageEnd-minRaw, PageSize)
	for i := range img.SectionHeaders {
		img.SectionHeaders[i].RawAddress += shift
	}
	return nil
}

func shiftRefCount(addr, tableStart, tableEnd uint32) uint32 {
	if addr >= tableStart && addr < tableEnd {
		return addr + SectionHeaderSize
	}
	return addr
}

func validateSectionName(name string) error {
	switch {
	case name == "":
		return errors.New("节区名称不能为空")
	case strings.IndexByte(name, 0) >= 0:
		return errors.Errorf("节区名称 %q 含有NUL字符", name)
	case !utf8.ValidString(name):
		return errors.Errorf("节区名称 %q 不是有效的UTF-8", name)
	}
	return nil
}

// AddSection is a convenience method on Image.
func (img *Image) AddSection(name string, data []byte, flags uint32) (SectionHeader, error) {
	return NewSectionInjector(img).InjectSection(name, data, flags)
}

// SectionByName returns the index of the first section called name.
func (img *Image) SectionByName(name string) (int, bool) {
	for i, n := range img.SectionNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}
