package cli

import (
	"os"
	"path/filepath"
)

// cacheDir returns the HTTP response cache directory.
func cacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "packmule"), nil
}

// stateDir returns the directory holding durable run state (the tarball
// index file).
func stateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "packmule"), nil
}

// indexPath returns the default tarball index file location.
func indexPath() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "index.json"), nil
}
