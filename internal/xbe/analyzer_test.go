package xbe_test

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZacharyZcR/XBEPatch/internal/xbe"
	"github.com/ZacharyZcR/XBEPatch/internal/xbe/xbetest"
)

func TestKindAndEntryPoint(t *testing.T) {
	img := xbetest.Default()
	text := img.SectionHeaders[0]

	assert.Equal(t, xbe.KindRetail, img.Header.Kind())
	ep, ok := img.Header.DecodedEntryPoint()
	require.True(t, ok)
	assert.Equal(t, text.VirtualAddress, ep)

	require.True(t, img.Header.SetEntryPoint(text.VirtualAddress+4))
	ep, _ = img.Header.DecodedEntryPoint()
	assert.Equal(t, text.VirtualAddress+4, ep)
	assert.Equal(t, xbe.KindRetail, img.Header.Kind())

	img.Header.EntryPoint = text.VirtualAddress ^ 0x94859D4B
	assert.Equal(t, xbe.KindDebug, img.Header.Kind())

	img.Header.EntryPoint = 0
	assert.Equal(t, xbe.KindUnknown, img.Header.Kind())
	_, ok = img.Header.KernelThunkAddress()
	assert.False(t, ok)
	assert.False(t, img.Header.SetEntryPoint(text.VirtualAddress))
}

func TestKernelImports(t *testing.T) {
	img := xbetest.Default()

	ordinals, err := img.KernelImports()
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 49}, ordinals)

	// A thunk without the ordinal bit is a name import, which the kernel
	// table never holds.
	rdata := img.SectionHeaders[1]
	require.NoError(t, img.WriteVirtual(rdata.VirtualAddress, []byte{0x10, 0, 0, 0}))
	_, err = img.KernelImports()
	assert.Error(t, err)
}

func TestReadVirtual(t *testing.T) {
	img := xbetest.Default()
	data := img.SectionHeaders[2]

	b, err := img.ReadVirtual(data.VirtualAddress, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("chum "), b)

	// Past the raw payload but inside the virtual size reads as zero.
	b, err = img.ReadVirtual(data.VirtualAddress+data.RawSize, 8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), b)

	_, err = img.ReadVirtual(data.VirtualAddress+data.VirtualSize-2, 4)
	assert.True(t, errors.Is(err, xbe.ErrInvalidAddress), "got %v", err)

	_, err = img.ReadVirtual(xbetest.Base, 4)
	assert.True(t, errors.Is(err, xbe.ErrInvalidAddress), "got %v", err)

	err = img.WriteVirtual(data.VirtualAddress+data.RawSize, []byte{1})
	assert.True(t, errors.Is(err, xbe.ErrInvalidAddress), "got %v", err)
}

func TestTLS(t *testing.T) {
	img := xbetest.Default()
	tls, err := img.TLS()
	require.NoError(t, err)
	assert.Nil(t, tls)

	img = xbetest.Build(xbetest.Options{
		Sections: []xbetest.SectionSpec{
			{Name: ".text", Data: xbetest.Code, Flags: xbe.SectionExecutable},
			{Name: ".tls", Data: make([]byte, 40)},
		},
		Libraries:    []string{"XBOXKRNL"},
		DebugPath:    `D:\tls.xbe`,
		EntrySection: ".text",
	})
	textVA := img.SectionHeaders[0].VirtualAddress
	tlsVA := img.SectionHeaders[1].VirtualAddress

	dir := make([]byte, 32)
	binary.LittleEndian.PutUint32(dir[0:], tlsVA)
	binary.LittleEndian.PutUint32(dir[4:], tlsVA+8)
	binary.LittleEndian.PutUint32(dir[8:], tlsVA+36)
	binary.LittleEndian.PutUint32(dir[12:], tlsVA+24)
	binary.LittleEndian.PutUint32(dir[16:], 0x20)
	binary.LittleEndian.PutUint32(dir[24:], textVA)
	require.NoError(t, img.WriteVirtual(tlsVA, dir))
	img.Header.TLSAddress = tlsVA

	tls, err = img.TLS()
	require.NoError(t, err)
	require.NotNil(t, tls)
	assert.Equal(t, tlsVA+36, tls.TLSIndexAddress)
	assert.Equal(t, uint32(0x20), tls.SizeOfZeroFill)
	assert.Equal(t, []uint32{textVA}, tls.Callbacks)
}

func TestVerifyDigests(t *testing.T) {
	img := xbetest.Default()

	for _, d := range img.VerifyDigests() {
		assert.True(t, d.Valid, "section %s", d.Section)
	}

	img.Sections[2].Bytes[0] ^= 0xFF
	digests := img.VerifyDigests()
	assert.True(t, digests[0].Valid)
	assert.False(t, digests[2].Valid)
	assert.Equal(t, ".data", digests[2].Section)
}

func TestCodeCaves(t *testing.T) {
	img := xbetest.Default()
	text := img.SectionHeaders[0]

	caves := img.DetectCodeCaves(16)
	require.Len(t, caves, 1)
	cave := caves[0]
	assert.Equal(t, ".text", cave.Section)
	assert.Equal(t, byte(0xCC), cave.FillByte)
	assert.Equal(t, uint32(64), cave.Size)
	assert.Equal(t, text.VirtualAddress+7, cave.VirtualAddress)
	assert.Equal(t, text.RawAddress+7, cave.RawOffset)

	assert.Len(t, img.DetectCodeCaves(2), 4)
}

func TestInjectCodeCaveWithJump(t *testing.T) {
	img := xbetest.Default()
	cave := img.DetectCodeCaves(16)[0]
	code := []byte{0x90, 0x90}

	original, err := img.InjectCodeCaveWithJump(cave, code)
	require.NoError(t, err)
	assert.Equal(t, img.SectionHeaders[0].VirtualAddress, original)

	ep, ok := img.Header.DecodedEntryPoint()
	require.True(t, ok)
	assert.Equal(t, cave.VirtualAddress, ep)

	got, err := img.ReadVirtual(cave.VirtualAddress, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x90, 0x90, 0xE9}, got[:3])
	rel := binary.LittleEndian.Uint32(got[3:])
	assert.Equal(t, original, cave.VirtualAddress+7+rel)

	_, err = img.InjectCodeCaveWithJump(cave, make([]byte, cave.Size))
	assert.Error(t, err)

	// The patched image still serializes.
	_, err = xbe.Write(img)
	assert.NoError(t, err)
}

func TestAnalyze(t *testing.T) {
	img := xbetest.Default()
	a := xbe.NewAnalyzer(img)
	a.SetSource("default.xbe", 0x4000)

	info := a.Analyze()
	assert.Equal(t, "default.xbe", info.FilePath)
	assert.Equal(t, xbe.KindRetail, info.Kind)
	assert.True(t, info.EntryPointOK)
	assert.Equal(t, img.SectionHeaders[0].VirtualAddress, info.EntryPoint)
	assert.Equal(t, "TH-033", info.TitleID)
	assert.Equal(t, "Test Title", info.TitleName)
	assert.Equal(t, []string{"北美"}, info.Regions)
	assert.Equal(t, []string{"DVD X2"}, info.Media)
	assert.Equal(t, `D:\game\main.xbe`, info.DebugPath)
	assert.Equal(t, "main.xbe", info.DebugName)
	assert.Equal(t, []uint32{1, 49}, info.KernelImports)
	assert.Nil(t, info.TLS)

	require.Len(t, info.Sections, 3)
	assert.Equal(t, "R-X", info.Sections[0].Permissions)
	assert.Equal(t, "RW-", info.Sections[2].Permissions)
	assert.Equal(t, 3, info.DigestsChecked)
	assert.Equal(t, 3, info.DigestsValid)

	require.Len(t, info.Libraries, 3)
	assert.Equal(t, "XBOXKRNL", info.Libraries[1].Name)
	assert.Equal(t, "1.0.5849", info.Libraries[1].Version)
}
