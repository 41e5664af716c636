// Package fsutil provides the file operations the scenarios use to mutate
// watched sources.
package fsutil

import (
	"io/fs"
	"os"
	"strings"
)

// defaultMode is used when writing a file that does not exist yet.
const defaultMode fs.FileMode = 0o644

// OS implements file mutation against the real filesystem.
type OS struct{}

// ReadFile returns the file content.
func (OS) ReadFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteFile replaces the file content in place, keeping its mode.
//
// The file is truncated and rewritten rather than renamed over, so that
// watchers keyed on the inode see a modification.
func (OS) WriteFile(path, content string) error {
	mode := defaultMode
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, []byte(content), mode)
}

// ReplaceInFile replaces the first occurrence of search with replace. The
// file is rewritten even when search is absent, which still triggers a
// rebuild in the watcher.
func (f OS) ReplaceInFile(path, search, replace string) error {
	content, err := f.ReadFile(path)
	if err != nil {
		return err
	}
	return f.WriteFile(path, strings.Replace(content, search, replace, 1))
}
