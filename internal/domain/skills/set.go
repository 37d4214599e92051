package skills

import (
	"slices"
	"sort"
)

// Set is an immutable, sorted, duplicate-free collection of canonical skill
// tokens. The zero value is the empty set.
type Set struct {
	tokens []string
}

// NewSet builds a Set from already-canonical tokens.
func NewSet(tokens ...string) Set {
	if len(tokens) == 0 {
		return Set{}
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return Set{tokens: slices.Compact(out)}
}

// Len returns the number of tokens.
func (s Set) Len() int { return len(s.tokens) }

// Empty reports whether the set has no tokens.
func (s Set) Empty() bool { return len(s.tokens) == 0 }

// Tokens returns a copy of the sorted tokens.
func (s Set) Tokens() []string { return slices.Clone(s.tokens) }

// Contains reports whether token is in the set.
func (s Set) Contains(token string) bool {
	_, ok := slices.BinarySearch(s.tokens, token)
	return ok
}

// Equal reports whether both sets hold the same tokens.
func (s Set) Equal(o Set) bool { return slices.Equal(s.tokens, o.tokens) }

// Union returns the tokens present in either set.
func (s Set) Union(o Set) Set {
	out := make([]string, 0, len(s.tokens)+len(o.tokens))
	i, j := 0, 0
	for i < len(s.tokens) && j < len(o.tokens) {
		switch {
		case s.tokens[i] < o.tokens[j]:
			out = append(out, s.tokens[i])
			i++
		case s.tokens[i] > o.tokens[j]:
			out = append(out, o.tokens[j])
			j++
		default:
			out = append(out, s.tokens[i])
			i++
			j++
		}
	}
	out = append(out, s.tokens[i:]...)
	out = append(out, o.tokens[j:]...)
	return Set{tokens: out}
}

// Intersect returns the tokens present in both sets.
func (s Set) Intersect(o Set) Set {
	var out []string
	i, j := 0, 0
	for i < len(s.tokens) && j < len(o.tokens) {
		switch {
		case s.tokens[i] < o.tokens[j]:
			i++
		case s.tokens[i] > o.tokens[j]:
			j++
		default:
			out = append(out, s.tokens[i])
			i++
			j++
		}
	}
	return Set{tokens: out}
}

// UnionAll folds sets into a single union.
func UnionAll(sets ...Set) Set {
	var acc Set
	for _, s := range sets {
		acc = acc.Union(s)
	}
	return acc
}
