// Package registerpath implements the hierarchical register-path type shared
// by the map-file parser, the register catalogue, and every backend.
package registerpath

import "strings"

// DefaultSeparator is the primary path component separator.
const DefaultSeparator = '/'

// Path is an ordered sequence of non-empty path components. The zero value
// is the root path (an empty sequence).
//
// Path is comparable by component sequence, not by lexical form: two Paths
// built from different separators but the same components are equal.
type Path struct {
	components []string
}

// New splits s into path components using sep as the separator in addition
// to DefaultSeparator. Empty components (leading/trailing/doubled
// separators) are dropped. Passing sep == 0 disables the alternate
// separator.
func New(s string, sep rune) Path {
	cutset := string(DefaultSeparator)
	if sep != 0 && sep != DefaultSeparator {
		cutset += string(sep)
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(cutset, r)
	})
	return Path{components: fields}
}

// Of builds a Path directly from its components. Empty strings are dropped.
func Of(components ...string) Path {
	out := make([]string, 0, len(components))
	for _, c := range components {
		if c != "" {
			out = append(out, c)
		}
	}
	return Path{components: out}
}

// Root reports whether p has zero components.
func (p Path) Root() bool { return len(p.components) == 0 }

// Length returns the number of path components.
func (p Path) Length() int { return len(p.components) }

// Component returns the i-th component. It panics if i is out of range,
// matching the precondition-violation contract used elsewhere for caller
// bugs.
func (p Path) Component(i int) string { return p.components[i] }

// Components returns a defensive copy of the component sequence.
func (p Path) Components() []string {
	out := make([]string, len(p.components))
	copy(out, p.components)
	return out
}

// String renders the path in canonical lexical form using DefaultSeparator.
func (p Path) String() string {
	if p.Root() {
		return string(DefaultSeparator)
	}
	return string(DefaultSeparator) + strings.Join(p.components, string(DefaultSeparator))
}

// Equal reports whether two paths have identical component sequences.
func (p Path) Equal(other Path) bool {
	if len(p.components) != len(other.components) {
		return false
	}
	for i, c := range p.components {
		if c != other.components[i] {
			return false
		}
	}
	return true
}

// StartsWith reports whether p begins with all of prefix's components, in
// order.
func (p Path) StartsWith(prefix Path) bool {
	if len(prefix.components) > len(p.components) {
		return false
	}
	for i, c := range prefix.components {
		if p.components[i] != c {
			return false
		}
	}
	return true
}

// Child returns a new Path with name appended as the last component. p is
// not modified.
func (p Path) Child(name string) Path {
	out := make([]string, len(p.components), len(p.components)+1)
	copy(out, p.components)
	if name != "" {
		out = append(out, name)
	}
	return Path{components: out}
}

// Parent returns p with its last component removed. Calling Parent on the
// root path returns the root path.
func (p Path) Parent() Path {
	if len(p.components) == 0 {
		return p
	}
	return Path{components: append([]string(nil), p.components[:len(p.components)-1]...)}
}

// Last returns the final component, or "" for the root path.
func (p Path) Last() string {
	if len(p.components) == 0 {
		return ""
	}
	return p.components[len(p.components)-1]
}
