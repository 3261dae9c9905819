// Package config resolves paths and switches from the environment.
package config

import (
	"path/filepath"

	"github.com/xyproto/env/v2"
)

// Defaults mirror the layout the mod loader has always used: the base
// image under baserom/ and the build under output/.
const (
	DefaultRom        = "baserom/default.xbe"
	DefaultOutputDir  = "output"
	DefaultModList    = "mods.toml"
	DefaultModListURL = "https://raw.githubusercontent.com/BfBBModdingTools/chum_bucket_lab/master/mods.toml"

	// OutputName is the file written inside the output directory.
	OutputName = "default.xbe"
)

// Config holds the resolved settings.
type Config struct {
	RomPath     string
	OutputDir   string
	ModListPath string
	ModListURL  string
	// CheckUpdate refreshes the cached mod list before it is read.
	CheckUpdate bool
	// ExpectedSHA1 overrides the integrity reference (hex). Empty means the
	// built-in digest.
	ExpectedSHA1 string
	LogLevel     string
}

// Load reads the XBEPATCH_* environment variables, falling back to the
// defaults.
func Load() *Config {
	return &Config{
		RomPath:      env.Str("XBEPATCH_ROM", DefaultRom),
		OutputDir:    env.Str("XBEPATCH_OUTPUT", DefaultOutputDir),
		ModListPath:  env.Str("XBEPATCH_MODLIST", DefaultModList),
		ModListURL:   env.Str("XBEPATCH_MODLIST_URL", DefaultModListURL),
		CheckUpdate:  !env.Bool("XBEPATCH_OFFLINE"),
		ExpectedSHA1: env.Str("XBEPATCH_SHA1"),
		LogLevel:     env.Str("XBEPATCH_LOG_LEVEL", "info"),
	}
}

// OutputPath returns the path of the built image.
func (c *Config) OutputPath() string {
	return filepath.Join(c.OutputDir, OutputName)
}

// Override replaces fields with the values set in o.
func (c *Config) Override(o Overrides) {
	if o.RomPath != "" {
		c.RomPath = o.RomPath
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.ModListPath != "" {
		c.ModListPath = o.ModListPath
	}
	if o.ModListURL != "" {
		c.ModListURL = o.ModListURL
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.CheckUpdate != nil {
		c.CheckUpdate = *o.CheckUpdate
	}
}

// Overrides carries command-line values. Empty strings and a nil
// CheckUpdate leave the loaded value alone.
type Overrides struct {
	RomPath     string
	OutputDir   string
	ModListPath string
	ModListURL  string
	LogLevel    string
	CheckUpdate *bool
}
