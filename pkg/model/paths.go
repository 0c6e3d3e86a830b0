package model

import "strings"

// CleanPath normalizes a declared path: '*' becomes '/', runs of '/' collapse
// into one, and leading and trailing slashes are removed.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "*", "/")

	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}

	return strings.Trim(b.String(), "/")
}

// IsWildcard reports whether a declared path matches every path below it.
func IsWildcard(p string) bool {
	return strings.HasSuffix(p, "*")
}
