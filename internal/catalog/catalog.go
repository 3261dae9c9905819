// Package catalog reads the mod list and fetches mod payloads.
package catalog

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Mod is one entry of the mod list.
type Mod struct {
	Name        string `toml:"name"`
	Author      string `toml:"author"`
	Description string `toml:"description"`
	WebsiteURL  string `toml:"website_url"`
	DownloadURL string `toml:"download_url"`
}

// ModList is the decoded mods.toml.
type ModList struct {
	Mods []Mod `toml:"mods"`
}

// Parse decodes a mod list. Every entry needs a name and a download URL.
func Parse(data string) (*ModList, error) {
	var list ModList
	if _, err := toml.Decode(data, &list); err != nil {
		return nil, errors.Wrap(err, "解析模组列表失败")
	}
	if err := list.validate(); err != nil {
		return nil, err
	}
	return &list, nil
}

// Load reads and decodes the mod list at path.
func Load(path string) (*ModList, error) {
	var list ModList
	if _, err := toml.DecodeFile(path, &list); err != nil {
		return nil, errors.Wrapf(err, "读取模组列表 %s 失败", path)
	}
	if err := list.validate(); err != nil {
		return nil, err
	}
	return &list, nil
}

func (l *ModList) validate() error {
	for i, m := range l.Mods {
		if m.Name == "" {
			return errors.Errorf("第 %d 个模组缺少名称", i+1)
		}
		if m.DownloadURL == "" {
			return errors.Errorf("模组 %q 缺少下载地址", m.Name)
		}
	}
	return nil
}

// Find returns the mod called name.
func (l *ModList) Find(name string) (Mod, bool) {
	for _, m := range l.Mods {
		if m.Name == name {
			return m, true
		}
	}
	return Mod{}, false
}

// Names returns the mod names in list order.
func (l *ModList) Names() []string {
	names := make([]string, 0, len(l.Mods))
	for _, m := range l.Mods {
		names = append(names, m.Name)
	}
	return names
}

// Encode renders the list back to TOML.
func (l *ModList) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(l); err != nil {
		return nil, errors.Wrap(err, "编码模组列表失败")
	}
	return buf.Bytes(), nil
}
