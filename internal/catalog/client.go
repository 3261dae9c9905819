package catalog

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ZacharyZcR/XBEPatch/internal/ips"
	"github.com/ZacharyZcR/XBEPatch/internal/log"
)

// maxDownloadSize bounds a single response body.
const maxDownloadSize = 64 << 20

// Client fetches the mod list and mod payloads over HTTP.
type Client struct {
	HTTP *http.Client
	Log  zerolog.Logger
}

// NewClient returns a client with a request timeout, logging to the
// shared logger.
func NewClient() *Client {
	return &Client{
		HTTP: &http.Client{Timeout: 30 * time.Second},
		Log:  log.Log.With().Str("component", "catalog").Logger(),
	}
}

// Get returns the body of url. Non-2xx responses are errors.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "创建请求 %s 失败", url)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "请求 %s 失败", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("请求 %s 返回状态 %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "读取 %s 响应失败", url)
	}
	if len(body) > maxDownloadSize {
		return nil, errors.Errorf("%s 响应超过 %d 字节", url, maxDownloadSize)
	}

	c.Log.Debug().Str("url", url).Int("bytes", len(body)).Msg("下载完成")
	return body, nil
}

// UpdateModList downloads the mod list at url and replaces the local copy at
// path. The download must parse before the local copy is touched, so a bad
// response never clobbers a working list.
func (c *Client) UpdateModList(ctx context.Context, url, path string) (*ModList, error) {
	body, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	list, err := Parse(string(body))
	if err != nil {
		return nil, errors.WithMessage(err, "远程模组列表无效")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "创建模组列表目录失败")
		}
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, errors.Wrap(err, "写入模组列表失败")
	}

	c.Log.Info().Str("path", path).Int("mods", len(list.Mods)).Msg("模组列表已更新")
	return list, nil
}

// Download fetches a mod's IPS payload and decodes it.
func (c *Client) Download(ctx context.Context, m Mod) (*ips.Patch, error) {
	body, err := c.Get(ctx, m.DownloadURL)
	if err != nil {
		return nil, errors.WithMessagef(err, "下载模组 %q", m.Name)
	}
	patch, err := ips.Parse(body)
	if err != nil {
		return nil, errors.WithMessagef(err, "模组 %q", m.Name)
	}
	c.Log.Info().Str("mod", m.Name).Int("records", len(patch.Records)).Msg("模组已下载")
	return patch, nil
}
