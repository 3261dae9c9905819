package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverride(t *testing.T) {
	no := false
	base := Config{
		RomPath:     DefaultRom,
		OutputDir:   DefaultOutputDir,
		ModListPath: DefaultModList,
		ModListURL:  DefaultModListURL,
		CheckUpdate: true,
		LogLevel:    "info",
	}

	tests := []struct {
		name string
		o    Overrides
		want Config
	}{
		{
			name: "No overrides",
			want: base,
		},
		{
			name: "Paths",
			o:    Overrides{RomPath: "rom.xbe", OutputDir: "build"},
			want: Config{
				RomPath:     "rom.xbe",
				OutputDir:   "build",
				ModListPath: DefaultModList,
				ModListURL:  DefaultModListURL,
				CheckUpdate: true,
				LogLevel:    "info",
			},
		},
		{
			name: "Disable update",
			o:    Overrides{CheckUpdate: &no, LogLevel: "debug"},
			want: Config{
				RomPath:     DefaultRom,
				OutputDir:   DefaultOutputDir,
				ModListPath: DefaultModList,
				ModListURL:  DefaultModListURL,
				CheckUpdate: false,
				LogLevel:    "debug",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.Override(tt.o)
			assert.Equal(t, tt.want, c)
		})
	}
}

func TestOutputPath(t *testing.T) {
	c := &Config{OutputDir: "output"}
	assert.Equal(t, filepath.Join("output", "default.xbe"), c.OutputPath())
}

func TestLoadNeverEmpty(t *testing.T) {
	c := Load()
	assert.NotEmpty(t, c.RomPath)
	assert.NotEmpty(t, c.OutputDir)
	assert.NotEmpty(t, c.ModListPath)
	assert.NotEmpty(t, c.ModListURL)
}
