// Package security validates operator-supplied GPX paths before the route
// loader reads them, so a loadroute invocation cannot be pointed at files
// outside its working area.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects filePath unless its cleaned, absolute
// form stays inside safeDir. It guards against `..` traversal in paths taken
// from the command line.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	relPath, err := filepath.Rel(absSafeDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// ValidateGPXSourcePath checks an operator-supplied course file path: it must
// carry a .gpx extension and resolve inside baseDir.
func ValidateGPXSourcePath(filePath, baseDir string) error {
	if ext := strings.ToLower(filepath.Ext(filePath)); ext != ".gpx" {
		return fmt.Errorf("course file must have .gpx extension, got %q", ext)
	}
	return ValidatePathWithinDirectory(filePath, baseDir)
}
