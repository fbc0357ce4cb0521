// Package artifact resolves artifact file names inside the output directory.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidName is returned for names that are not a single plain
	// file name or that resolve outside the output directory
	ErrInvalidName = errors.New("invalid artifact name")

	// ErrNotFound is returned when no regular file exists under the name
	ErrNotFound = errors.New("artifact not found")
)

// partialSuffixes mark files the download tool is still writing or keeps
// beside the artifact. They are never served.
var partialSuffixes = []string{".part", ".ytdl", ".tmp", ".temp", ".json"}

// IsPartial reports whether name is tool scratch output rather than a
// finished artifact
func IsPartial(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// Resolve returns the real path of name inside root. Artifacts are written
// flat into root, so any separator or dot segment is rejected before the
// file system is touched, and symlinks must stay inside root. Partial
// downloads are reported as not found.
func Resolve(root, name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if IsPartial(name) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	realPath, err := filepath.EvalSymlinks(filepath.Join(realRoot, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to resolve %s: %w", name, err)
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the output directory", ErrInvalidName, name)
	}

	info, err := os.Stat(realPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !info.Mode().IsRegular() || IsPartial(realPath) {
		return "", fmt.Errorf("%w: %s is not a finished artifact", ErrNotFound, name)
	}

	return realPath, nil
}
