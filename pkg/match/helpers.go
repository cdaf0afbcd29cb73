package match

import "strings"

// metaString fetches a string-valued metadata attribute.
func metaString(metadata map[string]any, key string) (string, bool) {
	if metadata == nil {
		return "", false
	}
	v, ok := metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// wildcardMatch reports whether s matches pattern, where '*' matches any
// run of characters. Comparison is case-insensitive.
func wildcardMatch(pattern, s string) bool {
	p := strings.ToLower(pattern)
	v := strings.ToLower(s)
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(v) {
		switch {
		case pi < len(p) && p[pi] == v[si]:
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
