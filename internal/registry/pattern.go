package registry

import "strings"

const maxPatternLen = 255

// validPattern reports whether p is a legal channel pattern: non-empty,
// bounded, and drawn from [A-Za-z0-9_:%-]. The % token is the SQL-LIKE
// any-sequence wildcard.
func validPattern(p string) bool {
	if p == "" || len(p) > maxPatternLen {
		return false
	}
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == ':' || c == '-' || c == '%':
		default:
			return false
		}
	}
	return true
}

// validName reports whether s is a legal concrete channel name: the
// pattern charset with the % wildcard excluded. Names arrive from clients,
// so anything outside the charset (notably the / used as the storage key
// separator) is rejected before resolution.
func validName(s string) bool {
	if s == "" || len(s) > maxPatternLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == ':' || c == '-':
		default:
			return false
		}
	}
	return true
}

// isWildcard reports whether the pattern contains a % token.
func isWildcard(p string) bool { return strings.ContainsRune(p, '%') }

// likeMatch reports whether name satisfies pattern under SQL-LIKE
// semantics where % matches any (possibly empty) sequence. The literal
// segments between wildcards are matched greedily left to right.
func likeMatch(pattern, name string) bool {
	segs := strings.Split(pattern, "%")
	if len(segs) == 1 {
		return pattern == name
	}
	first, last := segs[0], segs[len(segs)-1]
	if !strings.HasPrefix(name, first) {
		return false
	}
	rest := name[len(first):]
	for _, seg := range segs[1 : len(segs)-1] {
		if seg == "" {
			continue
		}
		i := strings.Index(rest, seg)
		if i < 0 {
			return false
		}
		rest = rest[i+len(seg):]
	}
	return strings.HasSuffix(rest, last)
}
