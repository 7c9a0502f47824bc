package evaluate

import "strings"

// WER computes the word error rate of a hypothesis against a reference
// transcript: word-level Levenshtein distance over the reference word
// count. Both sides are case-folded, trimmed, and stripped of
// punctuation first, so "Hello, world!" scores 0 against "hello world".
func WER(reference, hypothesis string) float64 {
	ref := normalizeWords(reference)
	hyp := normalizeWords(hypothesis)

	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}
	return float64(levenshtein(ref, hyp)) / float64(len(ref))
}

// normalizeWords lowercases, strips punctuation, and splits on
// whitespace. Words that are all punctuation disappear.
func normalizeWords(s string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Map(func(r rune) rune {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' {
				return r
			}
			if r > 127 { // keep non-ASCII letters for multilingual text
				return r
			}
			return -1
		}, f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// levenshtein is the classic two-row edit distance over word slices.
func levenshtein(a, b []string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
