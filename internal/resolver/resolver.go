// Package resolver derives destination paths for download tasks.
package resolver

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Resolve returns the destination path of url inside rootDir. A non-empty
// fileName is reduced to its last path element so the result never leaves
// rootDir; otherwise, or when nothing usable is left, the name comes from
// FileName. Resolve never touches the filesystem.
func Resolve(url, fileName, rootDir string) string {
	if fileName != "" {
		fileName = filepath.Base(fileName)
	}
	switch fileName {
	case "", ".", "..", string(filepath.Separator):
		fileName = FileName(url)
	}

	return filepath.Join(rootDir, fileName)
}

// FileName derives a file name from the text after the last '/' of url,
// ignoring any query or fragment. URLs without a usable last segment get a
// name-based UUID of the full url, so the same url always maps to the same
// name.
func FileName(url string) string {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}

	name := trimmed[strings.LastIndex(trimmed, "/")+1:]
	switch name {
	case "", ".", "..":
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
	}

	return name
}
