package stringset

// Set wraps common set operations on a map. Because it is equivalent to a
// map, make/range/len still work with Set.
type Set map[string]struct{}

// Add adds x to s.
func (s Set) Add(x string) {
	s[x] = struct{}{}
}

// Has returns true if x is in s.
func (s Set) Has(x string) bool {
	_, ok := s[x]
	return ok
}
