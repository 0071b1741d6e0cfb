// Package fsname turns arbitrary titles into portable file names.
package fsname

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxNameBytes keeps names below the common 255 byte limit with room for an extension.
const maxNameBytes = 200

// Fallback is used when nothing printable survives sanitising.
const Fallback = "untitled"

// Sanitize replaces path separators and characters rejected by common
// filesystems, collapses whitespace and trims leading/trailing dots and spaces.
func Sanitize(title string) string {
	var b strings.Builder

	b.Grow(len(title))

	space := false

	for _, r := range title {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			r = '_'
		case unicode.IsSpace(r):
			if space {
				continue
			}

			space = true

			b.WriteRune(' ')

			continue
		case !unicode.IsPrint(r):
			continue
		}

		space = false

		b.WriteRune(r)
	}

	name := strings.Trim(b.String(), " .")
	name = truncate(name, maxNameBytes)
	name = strings.TrimRight(name, " .")

	if name == "" {
		return Fallback
	}

	return name
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
