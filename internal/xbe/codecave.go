package xbe

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// CodeCave represents a usable code cave inside a section payload.
type CodeCave struct {
	Section        string // Section name.
	RawOffset      uint32 // File offset.
	VirtualAddress uint32 // Address once loaded.
	Size           uint32 // Available size in bytes.
	FillByte       byte   // Fill pattern (0x00 or 0xCC).
}

// jmpRel32Size is the length of an x86 JMP rel32 instruction.
const jmpRel32Size = 5

// CodeCaveDetector finds code caves in an Image.
type CodeCaveDetector struct {
	img *Image
}

// NewCodeCaveDetector creates a new code cave detector.
func NewCodeCaveDetector(img *Image) *CodeCaveDetector {
	return &CodeCaveDetector{img: img}
}

// FindCodeCaves searches for code caves in all sections.
// minSize specifies the minimum cave size in bytes.
func (d *CodeCaveDetector) FindCodeCaves(minSize uint32) []CodeCave {
	var caves []CodeCave
	for i := range d.img.SectionHeaders {
		caves = append(caves, d.findInSection(i, minSize)...)
	}
	return caves
}

// findInSection scans one payload for runs of 0x00 or 0xCC.
func (d *CodeCaveDetector) findInSection(index int, minSize uint32) []CodeCave {
	data := d.img.Sections[index].Bytes

	var caves []CodeCave
	caveStart := -1
	var fillByte byte

	for i, b := range data {
		if b == 0x00 || b == 0xCC {
			if caveStart == -1 {
				caveStart = i
				fillByte = b
			} else if b != fillByte {
				if uint32(i-caveStart) >= minSize {
					caves = append(caves, d.createCodeCave(index, caveStart, i, fillByte))
				}
				caveStart = i
				fillByte = b
			}
			continue
		}
		if caveStart != -1 && uint32(i-caveStart) >= minSize {
			caves = append(caves, d.createCodeCave(index, caveStart, i, fillByte))
		}
		caveStart = -1
	}

	if caveStart != -1 && uint32(len(data)-caveStart) >= minSize {
		caves = append(caves, d.createCodeCave(index, caveStart, len(data), fillByte))
	}

	return caves
}

func (d *CodeCaveDetector) createCodeCave(index, start, end int, fillByte byte) CodeCave {
	sh := d.img.SectionHeaders[index]
	return CodeCave{
		Section:        d.img.SectionNames[index],
		RawOffset:      sh.RawAddress + uint32(start),
		VirtualAddress: sh.VirtualAddress + uint32(start),
		Size:           uint32(end - start),
		FillByte:       fillByte,
	}
}

// InjectCodeCave writes code into a cave.
func (img *Image) InjectCodeCave(cave CodeCave, code []byte) error {
	if len(code) == 0 {
		return errors.New("代码不能为空")
	}
	if uint32(len(code)) > cave.Size {
		return errors.Errorf("代码大小 %d 字节超过 code cave 容量 %d 字节", len(code), cave.Size)
	}
	return img.WriteVirtual(cave.VirtualAddress, code)
}

// InjectCodeCaveWithJump injects code followed by a jump to the original
// entry point, then points the entry point at the cave. Returns the
// original entry point.
func (img *Image) InjectCodeCaveWithJump(cave CodeCave, code []byte) (uint32, error) {
	if uint32(len(code))+jmpRel32Size > cave.Size {
		return 0, errors.Errorf("代码大小 %d 字节超过 code cave 容量 %d 字节 (需要保留5字节用于返回跳转)", len(code), cave.Size)
	}

	originalEntry, ok := img.Header.DecodedEntryPoint()
	if !ok {
		return 0, errors.New("无法解码入口点")
	}

	// JMP rel32 is relative to the end of the jump instruction.
	fullCode := make([]byte, len(code)+jmpRel32Size)
	copy(fullCode, code)
	jumpSource := cave.VirtualAddress + uint32(len(fullCode))
	fullCode[len(code)] = 0xE9
	binary.LittleEndian.PutUint32(fullCode[len(code)+1:], originalEntry-jumpSource)

	if err := img.InjectCodeCave(cave, fullCode); err != nil {
		return 0, err
	}
	img.Header.SetEntryPoint(cave.VirtualAddress)

	return originalEntry, nil
}

// DetectCodeCaves is a convenience function for detecting code caves.
func (img *Image) DetectCodeCaves(minSize uint32) []CodeCave {
	return NewCodeCaveDetector(img).FindCodeCaves(minSize)
}
