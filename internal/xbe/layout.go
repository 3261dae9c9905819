package xbe

import "sort"

// placement pairs a section header with its payload for physical layout.
type placement struct {
	index  int
	header *SectionHeader
	data   []byte
}

// placeSections returns the sections in the order their payloads are laid
// out on disk: ascending raw address, header-table order on ties. The header
// table itself keeps its declared order.
func placeSections(img *Image) []placement {
	order := make([]placement, len(img.SectionHeaders))
	for i := range img.SectionHeaders {
		order[i] = placement{
			index:  i,
			header: &img.SectionHeaders[i],
			data:   img.Sections[i].Bytes,
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return order[a].header.RawAddress < order[b].header.RawAddress
	})
	return order
}

// LastRawAddress returns the highest section raw address.
func (img *Image) LastRawAddress() uint32 {
	var last uint32
	for _, sh := range img.SectionHeaders {
		if sh.RawAddress > last {
			last = sh.RawAddress
		}
	}
	return last
}

// rawEnd returns the end of the section payload furthest into the file.
func (img *Image) rawEnd() uint32 {
	var end uint32
	for _, sh := range img.SectionHeaders {
		if e := sh.RawAddress + sh.RawSize; e > end {
			end = e
		}
	}
	return end
}

// virtualEnd returns the end of the section mapped highest in memory.
func (img *Image) virtualEnd() uint32 {
	var end uint32
	for _, sh := range img.SectionHeaders {
		if e := sh.VirtualAddress + sh.VirtualSize; e > end {
			end = e
		}
	}
	return end
}

// headerEnd returns the file offset just past the logo bitmap, the last
// structure of the header region.
func (img *Image) headerEnd() (uint32, error) {
	off, err := img.Header.Offset(img.Header.LogoBitmapAddress)
	if err != nil {
		return 0, err
	}
	return off + img.Header.LogoBitmapSize, nil
}
