package xbe

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// SectionForVirtual returns the index of the section that maps addr.
func (img *Image) SectionForVirtual(addr uint32) (int, bool) {
	for i, sh := range img.SectionHeaders {
		if addr >= sh.VirtualAddress && addr < sh.VirtualAddress+sh.VirtualSize {
			return i, true
		}
	}
	return -1, false
}

// ReadVirtual reads size bytes at a virtual address. Bytes inside the
// virtual size but past the raw payload read as zero, as the loader fills
// them.
func (img *Image) ReadVirtual(addr, size uint32) ([]byte, error) {
	i, ok := img.SectionForVirtual(addr)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidAddress, "虚拟地址 0x%08X 不在任何节区内", addr)
	}
	sh := img.SectionHeaders[i]
	start := addr - sh.VirtualAddress
	if uint64(start)+uint64(size) > uint64(sh.VirtualSize) {
		return nil, errors.Wrapf(ErrInvalidAddress, "读取 0x%08X+0x%X 超出节区 %s", addr, size, img.SectionNames[i])
	}

	out := make([]byte, size)
	payload := img.Sections[i].Bytes
	if int(start) < len(payload) {
		copy(out, payload[start:])
	}
	return out, nil
}

// WriteVirtual overwrites section bytes at a virtual address. The range
// must lie inside the section's raw payload.
func (img *Image) WriteVirtual(addr uint32, data []byte) error {
	if len(data) == 0 {
		return errors.New("写入数据不能为空")
	}
	i, ok := img.SectionForVirtual(addr)
	if !ok {
		return errors.Wrapf(ErrInvalidAddress, "虚拟地址 0x%08X 不在任何节区内", addr)
	}
	start := addr - img.SectionHeaders[i].VirtualAddress
	payload := img.Sections[i].Bytes
	if uint64(start)+uint64(len(data)) > uint64(len(payload)) {
		return errors.Wrapf(ErrInvalidAddress, "写入 0x%08X+0x%X 超出节区 %s 的原始数据", addr, len(data), img.SectionNames[i])
	}
	copy(payload[start:], data)
	return nil
}

func (img *Image) readVirtualUint32(addr uint32) (uint32, error) {
	b, err := img.ReadVirtual(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// TLSDirectory is the XBE thread local storage directory.
type TLSDirectory struct {
	DataStartAddress   uint32
	DataEndAddress     uint32
	TLSIndexAddress    uint32
	TLSCallbackAddress uint32
	SizeOfZeroFill     uint32
	Characteristics    uint32
}

// TLSInfo contains TLS (Thread Local Storage) information.
type TLSInfo struct {
	TLSDirectory
	Callbacks []uint32
}

const (
	tlsDirectorySize = 24
	maxTLSCallbacks  = 100
	maxKernelImports = 0x200
	kernelOrdinalBit = 0x80000000
)

// TLS returns the TLS directory, or nil when the image has none.
func (img *Image) TLS() (*TLSInfo, error) {
	if img.Header.TLSAddress == 0 {
		return nil, nil
	}
	raw, err := img.ReadVirtual(img.Header.TLSAddress, tlsDirectorySize)
	if err != nil {
		return nil, errors.WithMessage(err, "读取TLS目录失败")
	}

	info := &TLSInfo{}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &info.TLSDirectory); err != nil {
		return nil, errors.Wrap(err, "解析TLS目录失败")
	}

	// Callback array is terminated by NULL.
	if addr := info.TLSCallbackAddress; addr != 0 {
		for i := uint32(0); i < maxTLSCallbacks; i++ {
			cb, err := img.readVirtualUint32(addr + i*4)
			if err != nil || cb == 0 {
				break
			}
			info.Callbacks = append(info.Callbacks, cb)
		}
	}
	return info, nil
}

// KernelImports returns the kernel export ordinals referenced by the
// kernel thunk table, in table order.
func (img *Image) KernelImports() ([]uint32, error) {
	addr, ok := img.Header.KernelThunkAddress()
	if !ok {
		return nil, errors.New("无法识别镜像类型，不能解码内核导入表地址")
	}

	var ordinals []uint32
	for i := uint32(0); i < maxKernelImports; i++ {
		thunk, err := img.readVirtualUint32(addr + i*4)
		if err != nil {
			return nil, errors.WithMessagef(err, "读取内核导入项 %d 失败", i)
		}
		if thunk == 0 {
			return ordinals, nil
		}
		if thunk&kernelOrdinalBit == 0 {
			return nil, errors.Errorf("内核导入项 %d 不是序号: 0x%08X", i, thunk)
		}
		ordinals = append(ordinals, thunk&^kernelOrdinalBit)
	}
	return nil, errors.Errorf("内核导入表超过 %d 项且未终止", maxKernelImports)
}
