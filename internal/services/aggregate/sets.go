package aggregate

import (
	"math"
	"sort"
)

type set map[string]struct{}

func (s set) add(v string) { s[v] = struct{}{} }

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// UnionCount returns |a ∪ b|.
func UnionCount(a, b map[string]struct{}) int {
	return len(a) + len(b) - IntersectCount(a, b)
}

// IntersectCount returns |a ∩ b|.
func IntersectCount(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for v := range a {
		if _, ok := b[v]; ok {
			n++
		}
	}
	return n
}

// Ratio divides by at least one so an empty denominator yields the numerator.
func Ratio(num, den float64) float64 {
	return num / math.Max(den, 1)
}
