package session

import "strings"

// Path is an ordered sequence of string segments identifying a broadcast
// relative to a session root. The zero value is the empty path.
type Path []string

// ParsePath splits a "/"-separated string into a Path, ignoring empty
// leading/trailing segments produced by a leading or trailing slash.
func ParsePath(s string) Path {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}
	}
	return Path(strings.Split(s, "/"))
}

// String renders the path back to its "/"-separated wire form.
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Join concatenates two paths into a new one.
func (p Path) Join(other Path) Path {
	out := make(Path, 0, len(p)+len(other))
	out = append(out, p...)
	out = append(out, other...)
	return out
}

// HasPrefix reports whether prefix is a segment-wise prefix of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, seg := range prefix {
		if p[i] != seg {
			return false
		}
	}
	return true
}

// Empty reports whether the path has no segments.
func (p Path) Empty() bool {
	return len(p) == 0
}
