package modloader

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ZacharyZcR/XBEPatch/internal/catalog"
	"github.com/ZacharyZcR/XBEPatch/internal/integrity"
)

// BuildRequest describes one mod build.
type BuildRequest struct {
	RomPath   string
	OutputDir string
	// Gate verifies the base image. Nil skips verification.
	Gate *integrity.Gate
	Mods []catalog.Mod
}

// Build loads the base image, applies the requested mods, checks that the
// result still parses and exports it. Returns the written path.
func Build(ctx context.Context, f Fetcher, req BuildRequest) (string, error) {
	rom, err := LoadRom(req.RomPath, req.Gate)
	if err != nil {
		return "", err
	}
	if err := rom.ApplyMods(ctx, f, req.Mods); err != nil {
		return "", err
	}
	if _, err := rom.Image(); err != nil {
		return "", errors.WithMessage(err, "打补丁后的镜像无法解析")
	}
	return rom.Export(req.OutputDir)
}
