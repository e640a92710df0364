// Package textsim holds the string folding and similarity measures shared by the
// normalization and ranking engines.
package textsim

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	dropped  = strings.NewReplacer(".", "", "'", "", "’", "")
	nonWord  = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	stopword = map[string]struct{}{
		"a": {}, "an": {}, "and": {}, "in": {}, "of": {}, "on": {}, "or": {}, "the": {}, "with": {},
	}
)

// Normalize folds s into the form used for dictionary keys: compatibility-decomposed, diacritics removed,
// lower case, dots and apostrophes dropped, every other non-word run replaced by a
// single space, trimmed.
func Normalize(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = norm.NFKC.String(s)
	}

	folded = strings.ToLower(folded)
	folded = dropped.Replace(folded)
	folded = nonWord.ReplaceAllString(folded, " ")
	return strings.Join(strings.Fields(folded), " ")
}

// Tokens returns the normalized, stopword-free tokens of s.
func Tokens(s string) []string {
	fields := strings.Fields(strings.ReplaceAll(Normalize(s), "_", " "))
	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopword[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Similarity is a lexical similarity in [0,1]: the mean of the token Dice coefficient
// and the character-bigram Dice coefficient of the normalized strings.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	return (dice(Tokens(a), Tokens(b)) + dice(bigrams(na), bigrams(nb))) / 2
}

// Contains reports whether every token of needle occurs in haystack.
func Contains(haystack, needle string) bool {
	want := Tokens(needle)
	if len(want) == 0 {
		return false
	}

	have := make(map[string]struct{})
	for _, tok := range Tokens(haystack) {
		have[tok] = struct{}{}
	}
	for _, tok := range want {
		if _, ok := have[tok]; !ok {
			return false
		}
	}
	return true
}

// Cosine returns the cosine similarity of two vectors, 0 when either is empty or zero.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := 0; i < n; i++ {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func bigrams(s string) []string {
	r := []rune(strings.ReplaceAll(s, " ", ""))
	if len(r) < 2 {
		return []string{string(r)}
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}

// dice is the multiset Dice coefficient.
func dice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	counts := make(map[string]int, len(a))
	for _, x := range a {
		counts[x]++
	}
	shared := 0
	for _, y := range b {
		if counts[y] > 0 {
			counts[y]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
