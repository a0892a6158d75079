// Package config holds the server configuration and its viper-backed
// loader. Values come from defaults, an optional .diffdeck.yaml file, and
// DIFFDECK_* environment variables, with command-line flags layered on top
// by the CLI.
package config

import (
	"fmt"
)

// Colors is the diff display palette injected into the page payload.
type Colors struct {
	Insert     string `mapstructure:"insert" json:"insert"`
	Delete     string `mapstructure:"delete" json:"delete"`
	CharInsert string `mapstructure:"char_insert" json:"charInsert"`
	CharDelete string `mapstructure:"char_delete" json:"charDelete"`
}

// Default palette values; the colorblind substitution only replaces colors
// still at these defaults so explicit overrides win.
const (
	DefaultColorInsert     = "#efe"
	DefaultColorDelete     = "#fee"
	DefaultColorCharInsert = "#cfc"
	DefaultColorCharDelete = "#fcc"
)

// Config is the complete server configuration.
type Config struct {
	// Host and Port for the HTTP listener. Port 0 picks a random free
	// port.
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// RootPath is the URL prefix the app is mounted under (e.g.
	// "/diffdeck"). Empty means the server root.
	RootPath string `mapstructure:"root_path" json:"rootPath"`

	// TimeoutMinutes shuts the server down unconditionally after this
	// many minutes. 0 disables the timeout.
	TimeoutMinutes int `mapstructure:"timeout" json:"-"`

	// WatchSeconds is the change-poll interval. 0 disables watch mode.
	WatchSeconds int `mapstructure:"watch" json:"-"`

	// ManageRepos enables repository management endpoints. Defaults on
	// for localhost only.
	ManageRepos bool `mapstructure:"manage_repos" json:"manageRepos"`

	// Diff display options.
	Unified           int    `mapstructure:"unified" json:"unified"`
	ExtraDirDiffArgs  string `mapstructure:"extra_dir_diff_args" json:"extraDirDiffArgs"`
	ExtraFileDiffArgs string `mapstructure:"extra_file_diff_args" json:"extraFileDiffArgs"`
	MaxDiffWidth      int    `mapstructure:"max_diff_width" json:"maxDiffWidth"`
	Theme             string `mapstructure:"theme" json:"theme"`
	MaxLinesForSyntax int    `mapstructure:"max_lines_for_syntax" json:"maxLinesForSyntax"`

	// DiffAlgorithm selects git's diff algorithm; empty keeps git's
	// default.
	DiffAlgorithm string `mapstructure:"diff_algorithm" json:"diffAlgorithm"`

	Colors Colors `mapstructure:"colors" json:"colors"`

	// LogFile routes logging through a rotating file instead of stderr.
	LogFile string `mapstructure:"log_file" json:"-"`
}

// validAlgorithms are the git diff algorithms the CLI accepts.
var validAlgorithms = map[string]bool{
	"": true, "myers": true, "minimal": true, "patience": true, "histogram": true,
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.TimeoutMinutes < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.WatchSeconds < 0 {
		return fmt.Errorf("watch interval cannot be negative")
	}
	if !validAlgorithms[c.DiffAlgorithm] {
		return fmt.Errorf("invalid diff algorithm: %q", c.DiffAlgorithm)
	}
	return nil
}

// IsLocalhost reports whether the configured host is loopback-only.
func (c *Config) IsLocalhost() bool {
	return c.Host == "localhost" || c.Host == "127.0.0.1" || c.Host == "::1"
}

// ApplyColorblindPalette swaps in a blue/orange palette for deuteranopia,
// overriding only colors still at their red/green defaults.
func (c *Config) ApplyColorblindPalette() {
	if c.Colors.Insert == DefaultColorInsert {
		c.Colors.Insert = "#ddf4ff"
	}
	if c.Colors.Delete == DefaultColorDelete {
		c.Colors.Delete = "#fff1e5"
	}
	if c.Colors.CharInsert == DefaultColorCharInsert {
		c.Colors.CharInsert = "#b6e3ff"
	}
	if c.Colors.CharDelete == DefaultColorCharDelete {
		c.Colors.CharDelete = "#ffd8b5"
	}
}
