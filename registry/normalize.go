package registry

import "strings"

// NormalizeLocator canonicalizes a source URL for identity comparison:
// lowercase, no scheme, no leading www., no trailing slash, no query
// string, no fragment. Two locators that normalize equal are the same
// document as far as identity allocation is concerned.
func NormalizeLocator(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "/")
	return s
}
