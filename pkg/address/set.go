package address

import (
	"bytes"
	"slices"
)

// Set is an unordered collection of addresses.
type Set map[Address]struct{} // A

// NewSet builds a Set from addrs.
func NewSet(addrs ...Address) Set { // A
	s := make(Set, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

func (s Set) Add(a Address) { // A
	s[a] = struct{}{}
}

func (s Set) Has(a Address) bool { // A
	_, ok := s[a]
	return ok
}

// Sorted returns the members in byte order.
func (s Set) Sorted() []Address { // A
	out := make([]Address, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return out
}
