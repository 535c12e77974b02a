package value

import "strings"

// Path is an ordered sequence of string segments addressing a location in a
// hierarchical value or in the bus node tree. The empty path is the root.
type Path []string

// P builds a path from segments. Convenience for literals: P("a", "b").
func P(segments ...string) Path { return Path(segments) }

// IsRoot reports whether the path is empty.
func (p Path) IsRoot() bool { return len(p) == 0 }

// Equal reports elementwise equality of two paths.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Child returns a new path with one more segment appended. The receiver is
// never mutated.
func (p Path) Child(segment string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = segment
	return out
}

// String renders the path as "/a/b/c"; the root renders as "/".
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	return "/" + strings.Join(p, "/")
}
