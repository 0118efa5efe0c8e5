package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// localStorageFullpath resolves key under baseDir, refusing keys that would
// escape it.
func localStorageFullpath(baseDir, key string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if cleaned == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(baseDir, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}
