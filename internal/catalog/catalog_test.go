package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleList = `
[[mods]]
name = "Widescreen"
author = "Seil"
description = "Renders in 16:9"
website_url = "https://example.com/widescreen"
download_url = "https://example.com/widescreen.ips"

[[mods]]
name = "Skip Intro"
author = "Steve"
description = "Boots straight to the menu"
website_url = "https://example.com/skip"
download_url = "https://example.com/skip.ips"
`

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "Two mods", input: sampleList, want: []string{"Widescreen", "Skip Intro"}},
		{name: "Empty list", input: "", want: []string{}},
		{name: "Invalid TOML", input: "[[mods]\nname=", wantErr: true},
		{name: "Missing download URL", input: "[[mods]]\nname = \"x\"\n", wantErr: true},
		{name: "Missing name", input: "[[mods]]\ndownload_url = \"http://x\"\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, list.Names())
		})
	}
}

func TestModFields(t *testing.T) {
	list, err := Parse(sampleList)
	require.NoError(t, err)

	m, ok := list.Find("Skip Intro")
	require.True(t, ok)
	assert.Equal(t, Mod{
		Name:        "Skip Intro",
		Author:      "Steve",
		Description: "Boots straight to the menu",
		WebsiteURL:  "https://example.com/skip",
		DownloadURL: "https://example.com/skip.ips",
	}, m)

	_, ok = list.Find("Missing")
	assert.False(t, ok)
}

func TestLoadAndEncode(t *testing.T) {
	list, err := Parse(sampleList)
	require.NoError(t, err)

	data, err := list.Encode()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mods.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, list, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "none.toml"))
	assert.Error(t, err)
}
