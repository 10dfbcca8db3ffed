// Package pathsafe turns user-supplied names into filesystem-safe folder names and builds the
// slash-separated logical paths stored in the folder index.
package pathsafe

import (
	"strings"
	"unicode"
)

// Separator joins folder names inside a logical path, independent of the host OS.
const Separator = "/"

const illegalChars = `<>:"|?*\/`

// Sanitize strips characters that are illegal on common filesystems and control characters,
// collapses runs of dots into one, and trims leading/trailing dots and spaces.
//
// An empty result means nothing usable remained; callers must reject it.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastDot := false
	for _, r := range name {
		if strings.ContainsRune(illegalChars, r) || unicode.IsControl(r) {
			continue
		}
		if r == '.' {
			if lastDot {
				continue
			}
			lastDot = true
		} else {
			lastDot = false
		}
		b.WriteRune(r)
	}

	return strings.TrimFunc(b.String(), func(r rune) bool {
		return r == '.' || unicode.IsSpace(r)
	})
}

// Join builds a folder path from its parent's path and its own name. A root folder's path is
// just its name.
func Join(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + Separator + name
}

// Rebase rewrites path, which must be oldPrefix itself or lie below it, so that it lives below
// newPrefix instead. The second result is false when path is outside oldPrefix.
func Rebase(path, oldPrefix, newPrefix string) (string, bool) {
	if path == oldPrefix {
		return newPrefix, true
	}
	rest, ok := strings.CutPrefix(path, oldPrefix+Separator)
	if !ok {
		return path, false
	}
	return Join(newPrefix, rest), true
}

// Segments splits a logical path into its folder names, ignoring empty segments.
func Segments(path string) []string {
	parts := strings.Split(path, Separator)
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
