// Package modloader turns a verified base image and a set of mods into a
// patched image on disk.
package modloader

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ZacharyZcR/XBEPatch/internal/catalog"
	"github.com/ZacharyZcR/XBEPatch/internal/integrity"
	"github.com/ZacharyZcR/XBEPatch/internal/ips"
	"github.com/ZacharyZcR/XBEPatch/internal/log"
	"github.com/ZacharyZcR/XBEPatch/internal/xbe"
)

// OutputName is the file Export writes inside its directory.
const OutputName = "default.xbe"

// Fetcher resolves a catalog entry to its patch.
type Fetcher interface {
	Download(ctx context.Context, m catalog.Mod) (*ips.Patch, error)
}

// Rom is an image being modded. A Rom is not safe for concurrent use.
type Rom struct {
	bytes []byte
	log   zerolog.Logger
}

// NewRom wraps b without verifying it. The Rom owns b afterwards.
func NewRom(b []byte) *Rom {
	return &Rom{
		bytes: b,
		log:   log.Log.With().Str("component", "modloader").Logger(),
	}
}

// LoadRom reads the image at path and checks it against gate. A nil gate
// skips the check.
func LoadRom(path string, gate *integrity.Gate) (*Rom, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "读取基础镜像 %s 失败", path)
	}
	if gate != nil {
		if err := gate.Verify(b); err != nil {
			return nil, errors.WithMessagef(err, "基础镜像 %s", path)
		}
	}

	r := NewRom(b)
	r.log.Info().Str("path", path).Int("bytes", len(b)).Msg("已加载基础镜像")
	return r, nil
}

// SetLogger replaces the Rom's logger.
func (r *Rom) SetLogger(l zerolog.Logger) {
	r.log = l
}

// Bytes returns the current image bytes. The slice aliases the Rom.
func (r *Rom) Bytes() []byte {
	return r.bytes
}

// ApplyPatch applies p in place, then its truncation if it has one. The
// image keeps any records applied before a failing one.
func (r *Rom) ApplyPatch(p *ips.Patch) error {
	if err := p.Apply(r.bytes); err != nil {
		return err
	}
	if p.HasTruncate {
		if int(p.Truncate) > len(r.bytes) {
			return errors.Wrapf(ips.ErrOutOfBounds, "截断长度 0x%X 超出镜像大小 0x%X", p.Truncate, len(r.bytes))
		}
		r.bytes = r.bytes[:p.Truncate]
	}
	return nil
}

// ApplyPatchBytes decodes an IPS payload and applies it.
func (r *Rom) ApplyPatchBytes(b []byte) error {
	p, err := ips.Parse(b)
	if err != nil {
		return err
	}
	return r.ApplyPatch(p)
}

// ApplyMods downloads and applies mods in order. It stops at the first
// failure; mods before it stay applied.
func (r *Rom) ApplyMods(ctx context.Context, f Fetcher, mods []catalog.Mod) error {
	for _, m := range mods {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "已取消")
		}
		p, err := f.Download(ctx, m)
		if err != nil {
			return err
		}
		if err := r.ApplyPatch(p); err != nil {
			return errors.WithMessagef(err, "应用模组 %q 失败", m.Name)
		}
		r.log.Info().Str("mod", m.Name).Int("records", len(p.Records)).Msg("已应用模组")
	}
	return nil
}

// Image parses the current bytes.
func (r *Rom) Image() (*xbe.Image, error) {
	return xbe.Parse(r.bytes)
}

// Rebuild parses the image, lets fn modify it and serializes the result
// back into the Rom. The Rom is unchanged if any step fails.
func (r *Rom) Rebuild(fn func(img *xbe.Image) error) error {
	img, err := r.Image()
	if err != nil {
		return err
	}
	if err := fn(img); err != nil {
		return err
	}
	out, err := xbe.Write(img)
	if err != nil {
		return err
	}
	r.log.Debug().Int("before", len(r.bytes)).Int("after", len(out)).Msg("已重建镜像")
	r.bytes = out
	return nil
}

// Export writes the image to dir/default.xbe, creating dir if needed, and
// returns the written path.
func (r *Rom) Export(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "创建输出目录 %s 失败", dir)
	}
	path := filepath.Join(dir, OutputName)
	if err := os.WriteFile(path, r.bytes, 0o644); err != nil {
		return "", errors.Wrapf(err, "写入 %s 失败", path)
	}
	r.log.Info().Str("path", path).Int("bytes", len(r.bytes)).Msg("已导出镜像")
	return path, nil
}
