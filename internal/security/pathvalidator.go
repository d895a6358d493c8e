// Package security confines configured paths to the project directory.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
)

var (
	ErrPathEscapes  = errors.New("path escapes project directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// LocalPath validates a path read from config and returns it cleaned, in
// slash form. It rejects:
// - Empty paths
// - Absolute paths
// - Paths that escape the project (using ..)
// - Windows reserved names (CON, NUL, etc.)
func LocalPath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}

	platformPath := filepath.FromSlash(p)
	if !filepath.IsLocal(platformPath) {
		if filepath.IsAbs(platformPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, p)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, p)
	}
	return filepath.ToSlash(filepath.Clean(platformPath)), nil
}

// Join resolves a local path against root. Paths that fail LocalPath are
// rejected.
func Join(root, p string) (string, error) {
	clean, err := LocalPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}
