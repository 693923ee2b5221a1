package security

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode"
)

// ValidateFilePath rejects local file paths that are empty, contain NUL
// bytes or climb out of their directory with "..".
func ValidateFilePath(p string) error {
	if p == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("file path contains a NUL byte")
	}
	for _, segment := range strings.Split(filepath.ToSlash(p), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains directory traversal: %s", p)
		}
	}
	return nil
}

const maxObjectKeyLength = 1024

// ValidateObjectKey checks that an object store key is relative, slash
// separated and free of traversal or control characters.
func ValidateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key cannot be empty")
	}
	if len(key) > maxObjectKeyLength {
		return fmt.Errorf("object key longer than %d bytes", maxObjectKeyLength)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("absolute object keys not allowed: %s", key)
	}
	if strings.ContainsRune(key, '\\') {
		return fmt.Errorf("object key contains a backslash: %s", key)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("object key contains control characters")
		}
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("object key contains directory traversal: %s", key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("object key is not canonical: %s", key)
	}
	return nil
}

// KeySegment reduces an arbitrary identifier to a single safe key segment.
// Characters outside [A-Za-z0-9._-] become '_'.
func KeySegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	segment := strings.Trim(b.String(), ".")
	if segment == "" {
		return "_"
	}
	return segment
}
