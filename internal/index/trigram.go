package index

import (
	"strings"
	"unicode"
)

// words splits folded text the way pg_trgm does: runs of letters and digits
// are words, everything else separates.
func words(folded string) []string {
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

// wordTrigrams pads a word with two leading spaces and one trailing space
// and returns its distinct trigrams.
func wordTrigrams(word string) []string {
	rs := []rune("  " + word + " ")
	seen := make(map[string]struct{}, len(rs))
	out := make([]string, 0, len(rs))
	for i := 0; i+3 <= len(rs); i++ {
		g := string(rs[i : i+3])
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// gramTable interns trigrams to small integers.
type gramTable struct {
	ids map[string]int32
}

func newGramTable() *gramTable {
	return &gramTable{ids: make(map[string]int32)}
}

func (t *gramTable) intern(g string) int32 {
	if id, ok := t.ids[g]; ok {
		return id
	}
	id := int32(len(t.ids))
	t.ids[g] = id
	return id
}

func (t *gramTable) lookup(g string) (int32, bool) {
	id, ok := t.ids[g]
	return id, ok
}

// windowSimilarity is the best Jaccard overlap between the query trigram set
// and any run of consecutive words of the same length as the query. query
// holds the known trigrams; querySize also counts those absent from the
// corpus.
func windowSimilarity(query map[int32]struct{}, querySize, queryWords int, doc [][]int32) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	width := queryWords
	if width > len(doc) {
		width = len(doc)
	}
	if width < 1 {
		width = 1
	}
	counts := make(map[int32]int)
	total, shared := 0, 0
	add := func(ws []int32, delta int) {
		for _, g := range ws {
			before := counts[g]
			counts[g] = before + delta
			step := 0
			switch {
			case before == 0 && delta > 0:
				step = 1
			case before == 1 && delta < 0:
				step = -1
			}
			total += step
			if _, ok := query[g]; ok {
				shared += step
			}
		}
	}
	best := 0.0
	for i := range doc {
		add(doc[i], 1)
		if i >= width {
			add(doc[i-width], -1)
		}
		if i+1 < width {
			continue
		}
		union := querySize + total - shared
		if union == 0 {
			continue
		}
		if sim := float64(shared) / float64(union); sim > best {
			best = sim
		}
	}
	return best
}
