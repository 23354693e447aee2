// Package config loads fragctl's configuration from a JSONC file, following
// the same global-then-project-then-CLI precedence chain used throughout the
// corpus this tool is adapted from.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Config holds the options needed to open a fragment store.
type Config struct {
	StorePath     string   `json:"store_path"` //nolint:tagliatelle // snake_case for config file
	Versions      []string `json:"versions,omitempty"`
	ActiveVersion string   `json:"active_version,omitempty"`
}

// Sources tracks which config files were loaded, for diagnostics.
type Sources struct {
	Global  string
	Project string
}

// FileName is the default project config file name.
const FileName = ".fragctl.json"

var (
	ErrFileNotFound  = errors.New("config file not found")
	ErrFileRead      = errors.New("cannot read config file")
	ErrInvalid       = errors.New("invalid config file")
	ErrStorePathEmpty = errors.New("store_path cannot be empty")
)

// Default returns the baseline configuration before any file or override is
// applied.
func Default() Config {
	return Config{
		StorePath: ".fragments/store.frag",
		Versions:  []string{"draft", "public"},
	}
}

// globalPath returns $XDG_CONFIG_HOME/fragctl/config.json, falling back to
// ~/.config/fragctl/config.json, or "" if neither can be determined.
func globalPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "fragctl", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fragctl", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "fragctl", "config.json")
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Default()
//  2. Global user config
//  3. Project config (.fragctl.json in workDir, or an explicit configPath)
//  4. CLI overrides
func Load(workDir, configPath string, overrides Config, hasStorePathOverride bool, env []string) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	globalCfg, gPath, err := loadOptional(globalPath(env))
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = gPath
	cfg = merge(cfg, globalCfg)

	projectCfg, pPath, err := loadProject(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = pPath
	cfg = merge(cfg, projectCfg)

	if hasStorePathOverride {
		cfg.StorePath = overrides.StorePath
	}

	if len(overrides.Versions) > 0 {
		cfg.Versions = overrides.Versions
	}

	if overrides.ActiveVersion != "" {
		cfg.ActiveVersion = overrides.ActiveVersion
	}

	if err := validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	var (
		path      string
		mustExist bool
	)

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		if _, err := os.Stat(path); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, FileName)
	}

	cfg, loaded, err := loadConfigFile(path, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadOptional(path string) (Config, string, error) {
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.StorePath != "" {
		base.StorePath = overlay.StorePath
	}

	if len(overlay.Versions) > 0 {
		base.Versions = overlay.Versions
	}

	if overlay.ActiveVersion != "" {
		base.ActiveVersion = overlay.ActiveVersion
	}

	return base
}

func validate(cfg Config) error {
	if cfg.StorePath == "" {
		return ErrStorePathEmpty
	}

	return nil
}

// Format renders cfg as indented JSON, the form Write stores on disk.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}

// Write renders cfg and writes it to path as the project config file,
// replacing any existing file atomically (write-to-temp-then-rename) so a
// crash or concurrent read never observes a partially written file.
func Write(path string, cfg Config) error {
	rendered, err := Format(cfg)
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(path, strings.NewReader(rendered)); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}

	return nil
}
