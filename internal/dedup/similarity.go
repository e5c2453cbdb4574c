package dedup

import (
	"sort"
	"strings"
	"unicode"
)

const (
	DefaultThreshold = 0.8
	DefaultLimit     = 5
)

// Candidate is a bank question considered by FindSimilar.
type Candidate struct {
	ID      int64
	Content string
	Hash    string
}

type Match struct {
	ID      int64   `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Score is the Jaccard overlap of the unigram and bigram shingles of two
// normalized texts. Two empty texts are identical.
func Score(a, b string) float64 {
	if a == b {
		return 1
	}
	sa := shingleSet(tokens(a))
	sb := shingleSet(tokens(b))
	return jaccard(sa, sb)
}

// tokens splits normalized text into words; each CJK ideograph or kana is a token of its own.
func tokens(text string) []string {
	out := make([]string, 0, len(text)/3)
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case isCJK(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func shingleSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words)*2)
	for i, w := range words {
		out[w] = struct{}{}
		if i+1 < len(words) {
			out[w+"\x00"+words[i+1]] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// FindSimilar scores content against candidates and returns those at or above
// threshold, best first. Candidates sharing content's exact hash and the
// candidate with excludeID are skipped.
func FindSimilar(content string, candidates []Candidate, threshold float64, limit int, excludeID int64) []Match {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	normalized := Normalize(content)
	hash := HashOf(content)
	target := shingleSet(tokens(normalized))

	matches := make([]Match, 0, limit)
	for _, c := range candidates {
		if excludeID > 0 && c.ID == excludeID {
			continue
		}
		candHash := c.Hash
		if candHash == "" {
			candHash = HashOf(c.Content)
		}
		if candHash == hash {
			continue
		}
		score := jaccard(target, shingleSet(tokens(Normalize(c.Content))))
		if score >= threshold {
			matches = append(matches, Match{ID: c.ID, Content: c.Content, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
