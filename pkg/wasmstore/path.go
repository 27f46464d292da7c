package wasmstore

import "strings"

// Path is a module location as an ordered sequence of segments. A single
// element may itself contain "/" separators; Path{"a/b"} and Path{"a", "b"}
// address the same module.
type Path []string

// String returns the wire form of p.
func (p Path) String() string {
	return WireString(p)
}

// Normalize converts a path into its wire form. A single string is returned
// unchanged and multiple segments are joined with "/". Nothing else is added
// or removed, so empty segments produce consecutive separators.
func Normalize(path ...string) string {
	if len(path) == 1 {
		return path[0]
	}
	return strings.Join(path, "/")
}

// WireString returns "" for an absent path, which the server reads as the
// root of the tree, and Normalize(p...) otherwise.
func WireString(p Path) string {
	if p == nil {
		return ""
	}
	return Normalize(p...)
}
