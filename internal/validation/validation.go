// Package validation provides input validation and sanitization functions
// to prevent path traversal, injection through selection names, and
// resource exhaustion.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// Security limits to prevent DoS attacks (CWE-400).
const (
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrInvalidCharacter = errors.New("invalid character in path")
)

// SanitizePath validates and sanitizes a user-supplied path to prevent path traversal attacks.
// It ensures the path does not escape the provided base directory.
// Returns the cleaned path relative to the base directory, or an error if invalid.
func SanitizePath(baseDir, userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	if len(userPath) > MaxPathLength {
		return "", ErrPathTooLong
	}

	// Backslashes are separators on Windows and never legitimate in a URL path.
	if strings.Contains(userPath, "\\") {
		return "", ErrPathTraversal
	}

	cleanPath := filepath.Clean(filepath.FromSlash(userPath))

	if hasParentSegment(cleanPath) {
		return "", ErrPathTraversal
	}

	if filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}

	fullPath := filepath.Join(baseDir, cleanPath)
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	relPath, err := filepath.Rel(absBase, absPath)
	if err != nil || hasParentSegment(relPath) {
		return "", ErrPathTraversal
	}

	return cleanPath, nil
}

// hasParentSegment reports whether a cleaned path has a ".." element.
// Names that merely contain two dots, such as app..min.css, are allowed.
func hasParentSegment(p string) bool {
	for _, seg := range strings.Split(p, string(filepath.Separator)) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ValidatePath performs basic validation on a configured path without
// resolving it against a base directory.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}

	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}

	for _, r := range path {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrInvalidCharacter, r)
		}
	}

	return nil
}

// ValidateFilename checks if a filename is safe and does not contain malicious characters.
// Catalog names pass through this check because they become a path component
// of the parser script location.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}

	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}

	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}

	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}

	if strings.Contains(filename, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidFilename)
	}

	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}

	// A leading hyphen can be confused with a command flag.
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}

	return nil
}

// SanitizeText strips NUL bytes and control characters other than tab,
// newline and carriage return from submitted text.
func SanitizeText(input string) string {
	if !strings.ContainsFunc(input, isStrippedControl) {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !isStrippedControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isStrippedControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return unicode.IsControl(r)
}
