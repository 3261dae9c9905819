package xbe

import "github.com/pkg/errors"

// Translate converts a virtual address in the header region to a file
// offset relative to base.
func Translate(base, addr uint32) (uint32, error) {
	if addr < base {
		return 0, errors.Wrapf(ErrInvalidAddress, "地址 0x%08X 小于基址 0x%08X", addr, base)
	}
	return addr - base, nil
}

// Offset returns the file offset of a header-region address.
func (h *ImageHeader) Offset(addr uint32) (uint32, error) {
	return Translate(h.BaseAddress, addr)
}

// Address is the inverse of Offset.
func (h *ImageHeader) Address(offset uint32) uint32 {
	return h.BaseAddress + offset
}

// alignUp aligns a value up to the nearest multiple of alignment.
func alignUp(value, alignment uint32) uint32 {
	if alignment == 0 {
		return value
	}
	return ((value + alignment - 1) / alignment) * alignment
}
