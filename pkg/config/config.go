// Package config loads the packmule configuration file.
//
// Configuration lives in a TOML file (~/.config/packmule/config.toml by
// default). Every field has a built-in default (see [Default]), so a
// missing file at the default location is not an error; a missing file at
// an explicitly given path is. Command-line flags override file values.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	pkgerrors "github.com/packmule/packmule/pkg/errors"
)

// DefaultRegistry is the public npm registry.
const DefaultRegistry = "https://registry.npmjs.org"

// Config holds the packmule configuration.
type Config struct {
	// Registry is the base URL of the registry to mirror from.
	Registry string `toml:"registry"`

	// CacheDir is the HTTP response cache directory. Empty selects
	// ~/.cache/packmule.
	CacheDir string `toml:"cache_dir"`

	// Destination is the default tarball destination directory.
	Destination string `toml:"destination"`

	// Concurrency bounds parallel downloads. The publish command does not
	// read it.
	Concurrency int `toml:"concurrency"`

	// Index configures the durable tarball index.
	Index Index `toml:"index"`
}

// Index selects and configures a tarball index backend.
type Index struct {
	// Backend is one of "file" (default), "redis", "mongo", "none".
	Backend string `toml:"backend"`

	// Path is the index file location for the file backend. Empty selects
	// ~/.local/state/packmule/index.json.
	Path string `toml:"path"`

	// Addr is the redis address for the redis backend (host:port).
	Addr string `toml:"addr"`

	// URI is the mongodb connection string for the mongo backend.
	URI string `toml:"uri"`

	// Database is the mongodb database name (default "packmule").
	Database string `toml:"database"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Registry:    DefaultRegistry,
		Destination: "packages",
		Concurrency: 20,
		Index:       Index{Backend: "file"},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "packmule", "config.toml"), nil
}

// Load reads the configuration from path, falling back to [DefaultPath]
// when path is empty. A missing file at the default location yields
// [Default]; an explicit path that does not exist yields [Default] together
// with a FILE_NOT_FOUND error; a malformed file is an INVALID_CONFIG error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if explicit {
			return cfg, pkgerrors.New(pkgerrors.ErrCodeFileNotFound, "config file %s does not exist", path)
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidConfig, err, "read config %s", path)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidConfig, err, "parse config %s", path)
	}
	if cfg.Registry == "" {
		cfg.Registry = DefaultRegistry
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = Default().Concurrency
	}
	return cfg, nil
}
