package security

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"
)

// maxFilenameRunes keeps generated names well under common filesystem limits.
const maxFilenameRunes = 120

var (
	errAbsolutePath = errors.New("absolute paths not allowed")
	errEscapesRoot  = errors.New("path escapes the library root")
)

// CleanText drops NUL and other control characters from free text reported
// by a source (titles, descriptions). Newlines and tabs survive.
func CleanText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
}

// SanitizeFilename turns a title into a single safe path component.
func SanitizeFilename(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return ' '
		case r < 0x20:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)

	runes := []rune(strings.Join(strings.Fields(mapped), " "))
	if len(runes) > maxFilenameRunes {
		runes = runes[:maxFilenameRunes]
	}
	out := strings.Trim(strings.TrimSpace(string(runes)), ".")
	if out == "" {
		return "unknown"
	}
	return out
}

// IsValidPath reports whether p is a non-empty relative path that stays
// below its starting directory.
func IsValidPath(p string) bool {
	if p == "" || strings.ContainsRune(p, 0) {
		return false
	}
	cleaned := filepath.Clean(p)
	if filepath.IsAbs(cleaned) || hasDriveLetter(cleaned) {
		return false
	}
	return !climbsOut(cleaned)
}

// ValidateFilePath joins rel onto root and returns the result, refusing
// absolute paths and anything that would land outside root.
func ValidateFilePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", errAbsolutePath
	}
	if !IsValidPath(rel) {
		return "", errEscapesRoot
	}

	root = filepath.Clean(root)
	full := filepath.Join(root, rel)
	back, err := filepath.Rel(root, full)
	if err != nil || climbsOut(back) {
		return "", errEscapesRoot
	}
	return full, nil
}

func climbsOut(p string) bool {
	return p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator))
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' && unicode.IsLetter(rune(p[0]))
}
