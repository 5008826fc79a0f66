// Package pathutil holds the small path helpers shared by the walker, the
// plugin registry and the scan driver.
package pathutil

import (
	"path/filepath"
	"strings"
)

// Extension returns the substring after the last dot of the base name of
// path, or "" when the base name has no dot.
func Extension(path string) string {
	base := filepath.Base(path)
	idx := strings.LastIndexByte(base, '.')
	if idx < 0 {
		return ""
	}
	return base[idx+1:]
}

// HasExtension reports whether the extension of path equals one of exts.
// Comparison is case-sensitive; a leading dot on a configured extension is
// ignored. An empty exts accepts every path.
func HasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := Extension(path)
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.TrimPrefix(e, ".") == ext {
			return true
		}
	}
	return false
}

// Rel returns path relative to root using forward slashes. When path is not
// under root it is returned unchanged in slash form.
func Rel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// ParentDirName returns the name of the directory containing path, or ""
// when it cannot be determined.
func ParentDirName(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	switch dir {
	case ".", string(filepath.Separator), "":
		return ""
	}
	return dir
}
