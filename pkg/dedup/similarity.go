package dedup

import "slices"

// DefaultThreshold is the similarity at or above which two calls are considered duplicates.
// It is a tunable: the heuristic is tuned for short, templated arguments.
const DefaultThreshold = 0.9

// fuzzyMinWords is the length from which a string counts as free text. Shorter
// strings behave like enums and flags and must match exactly.
const fuzzyMinWords = 4

// Similarity scores two argument sets in [0, 1].
//
// Identical canonical forms score 1. Calls whose non-string values (booleans,
// numbers, nulls, key sets, array lengths) differ in any way score 0. Otherwise
// every string field is scored on its own and the lowest score wins, so one
// long field can never hide a change in another. Strings under fuzzyMinWords
// words score 1 when their words are equal and 0 otherwise; longer strings
// score the Jaccard overlap of their adjacent word pairs, which keeps word
// order significant.
func Similarity(a, b map[string]any) float64 {
	return similarity(newKey(a), newKey(b))
}

type key struct {
	canonical string
	shape     string
	words     map[string][]string
}

func newKey(args map[string]any) key {
	return key{
		canonical: Canonical(args),
		shape:     shape(args),
		words:     words(args),
	}
}

func similarity(a, b key) float64 {
	if a.canonical == b.canonical {
		return 1
	}
	if a.shape != b.shape {
		return 0
	}
	score := 1.0
	for path, wa := range a.words {
		if s := fieldSimilarity(wa, b.words[path]); s < score {
			score = s
		}
		if score == 0 {
			break
		}
	}
	return score
}

func fieldSimilarity(a, b []string) float64 {
	if slices.Equal(a, b) {
		return 1
	}
	if len(a) < fuzzyMinWords || len(b) < fuzzyMinWords {
		return 0
	}
	pa, pb := pairs(a), pairs(b)
	inter := 0
	for p := range pa {
		if _, ok := pb[p]; ok {
			inter++
		}
	}
	union := len(pa) + len(pb) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

// pairs returns the set of adjacent word pairs of ws.
func pairs(ws []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ws))
	for i := 0; i+1 < len(ws); i++ {
		out[ws[i]+" "+ws[i+1]] = struct{}{}
	}
	return out
}
