package modloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZacharyZcR/XBEPatch/internal/catalog"
	"github.com/ZacharyZcR/XBEPatch/internal/integrity"
	"github.com/ZacharyZcR/XBEPatch/internal/ips"
	"github.com/ZacharyZcR/XBEPatch/internal/xbe"
	"github.com/ZacharyZcR/XBEPatch/internal/xbe/xbetest"
)

// fakeFetcher serves patches by mod name.
type fakeFetcher struct {
	patches map[string]*ips.Patch
	calls   []string
}

func (f *fakeFetcher) Download(_ context.Context, m catalog.Mod) (*ips.Patch, error) {
	f.calls = append(f.calls, m.Name)
	p, ok := f.patches[m.Name]
	if !ok {
		return nil, errors.Errorf("mod %s not found", m.Name)
	}
	return p, nil
}

func writeBaseRom(t *testing.T) (string, []byte) {
	t.Helper()
	raw := xbetest.Bytes()
	path := filepath.Join(t.TempDir(), "baserom", "default.xbe")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path, raw
}

func quietRom(b []byte) *Rom {
	r := NewRom(b)
	r.SetLogger(zerolog.Nop())
	return r
}

func TestLoadRom(t *testing.T) {
	path, raw := writeBaseRom(t)

	tests := []struct {
		name    string
		gate    *integrity.Gate
		wantErr error
	}{
		{name: "Matching digest", gate: integrity.New(integrity.Sum(raw))},
		{name: "No gate", gate: nil},
		{name: "Wrong digest", gate: integrity.Default(), wantErr: integrity.ErrIntegrityMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rom, err := LoadRom(path, tt.gate)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, raw, rom.Bytes())
		})
	}

	_, err := LoadRom(filepath.Join(t.TempDir(), "missing.xbe"), nil)
	assert.Error(t, err)
}

func TestApplyPatch(t *testing.T) {
	rom := quietRom([]byte{0, 1, 2, 3, 4, 5, 6, 7})

	require.NoError(t, rom.ApplyPatch(&ips.Patch{
		Records: []ips.Record{{Offset: 2, Data: []byte{0xAA, 0xBB}}},
	}))
	assert.Equal(t, []byte{0, 1, 0xAA, 0xBB, 4, 5, 6, 7}, rom.Bytes())

	require.NoError(t, rom.ApplyPatch(&ips.Patch{Truncate: 4, HasTruncate: true}))
	assert.Equal(t, []byte{0, 1, 0xAA, 0xBB}, rom.Bytes())

	err := rom.ApplyPatch(&ips.Patch{Truncate: 16, HasTruncate: true})
	assert.True(t, errors.Is(err, ips.ErrOutOfBounds), "got %v", err)

	err = rom.ApplyPatchBytes([]byte("garbage"))
	assert.True(t, errors.Is(err, ips.ErrMalformedPatch), "got %v", err)
}

func TestApplyModsStopsAtFirstFailure(t *testing.T) {
	rom := quietRom(make([]byte, 8))
	f := &fakeFetcher{patches: map[string]*ips.Patch{
		"first":  {Records: []ips.Record{{Offset: 0, Data: []byte{1}}}},
		"broken": {Records: []ips.Record{{Offset: 7, Data: []byte{1, 2}}}},
		"last":   {Records: []ips.Record{{Offset: 1, Data: []byte{3}}}},
	}}
	mods := []catalog.Mod{{Name: "first"}, {Name: "broken"}, {Name: "last"}}

	err := rom.ApplyMods(context.Background(), f, mods)
	assert.True(t, errors.Is(err, ips.ErrOutOfBounds), "got %v", err)
	assert.Equal(t, []string{"first", "broken"}, f.calls)
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0}, rom.Bytes())
}

func TestApplyModsCancelled(t *testing.T) {
	rom := quietRom(make([]byte, 8))
	f := &fakeFetcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rom.ApplyMods(ctx, f, []catalog.Mod{{Name: "any"}})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Empty(t, f.calls)
}

func TestRebuildAddSection(t *testing.T) {
	rom := quietRom(xbetest.Bytes())

	err := rom.Rebuild(func(img *xbe.Image) error {
		_, err := img.AddSection(".mod", []byte{0xC3}, xbe.SectionExecutable)
		return err
	})
	require.NoError(t, err)

	img, err := rom.Image()
	require.NoError(t, err)
	_, ok := img.SectionByName(".mod")
	assert.True(t, ok)
}

func TestRebuildFailureKeepsBytes(t *testing.T) {
	raw := xbetest.Bytes()
	rom := quietRom(append([]byte(nil), raw...))

	err := rom.Rebuild(func(img *xbe.Image) error {
		img.Header.NumberOfSections++
		return nil
	})
	assert.True(t, errors.Is(err, xbe.ErrLayout), "got %v", err)
	assert.Equal(t, raw, rom.Bytes())
}

func TestBuild(t *testing.T) {
	path, raw := writeBaseRom(t)
	out := filepath.Join(t.TempDir(), "output")

	// Patch a byte of the .text payload so the image stays parseable.
	img := xbetest.Default()
	textRaw := img.SectionHeaders[0].RawAddress
	f := &fakeFetcher{patches: map[string]*ips.Patch{
		"nop": {Records: []ips.Record{{Offset: textRaw, Data: []byte{0x90}}}},
	}}

	written, err := Build(context.Background(), f, BuildRequest{
		RomPath:   path,
		OutputDir: out,
		Gate:      integrity.New(integrity.Sum(raw)),
		Mods:      []catalog.Mod{{Name: "nop"}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, OutputName), written)

	got, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.Len(t, got, len(raw))
	assert.Equal(t, byte(0x90), got[textRaw])
	assert.False(t, integrity.New(integrity.Sum(raw)).Check(got))

	// A corrupted base never reaches the output.
	_, err = Build(context.Background(), f, BuildRequest{
		RomPath:   path,
		OutputDir: filepath.Join(t.TempDir(), "never"),
		Gate:      integrity.Default(),
	})
	assert.True(t, errors.Is(err, integrity.ErrIntegrityMismatch), "got %v", err)
}
