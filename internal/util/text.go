package util

import (
	"sort"
	"strings"
)

// SplitHashtags splits s on commas, semicolons, pipes and whitespace.
// Extra delimiters may be passed, e.g. "/" for exports that use it.
func SplitHashtags(s string, extra ...string) []string {
	pairs := []string{",", " ", ";", " ", "|", " ", "\n", " ", "\t", " ", "\r", " "}
	for _, d := range extra {
		if d != "" {
			pairs = append(pairs, d, " ")
		}
	}
	return strings.Fields(strings.NewReplacer(pairs...).Replace(s))
}

// CanonicalTags lowercases tokens, strips leading '#', drops empties and
// duplicates, and returns them sorted.
func CanonicalTags(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimLeft(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Overlap returns the sorted tokens present in both sorted slices.
func Overlap(a, b []string) []string {
	var out []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}
