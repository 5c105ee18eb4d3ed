/*
Package settlement reconciles externally reported settlement files against
the system's lead records.

PURPOSE:
  An uploaded spreadsheet or CSV of paid amounts is normalized
  (parser.go), scored against the month's unreconciled leads with a
  weighted multi-factor similarity (similarity.go, match.go), and the
  confirmed matches are committed atomically (reconcile.go).

KEY CONCEPTS IN THIS FILE (similarity.go):
  - Normalize: lower-case, strip diacritics, keep only [a-z0-9]
  - Similarity: 1 - levenshtein/maxLen over normalized strings
  - AmountCloseness: 1 - |a-b|/max(a,b), floored at 0

Strings that normalize identically score 1.0. When exactly one side is
empty the score is 0; the upstream implementation scored that case 1.0
by accident of its longer-string-length-zero branch, which made any lead
match a blank cell.
*/
package settlement

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD and removes combining marks, so "Torre Ñuñoa"
// and "Torre Nunoa" normalize identically.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lower-cases, strips diacritics, and drops everything except
// ASCII letters and digits.
func Normalize(s string) string {
	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity scores two strings in [0, 1] using normalized edit distance.
// Identical normalized strings score 1.0; exactly one empty side scores 0.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}

	longer, shorter := na, nb
	if len(nb) > len(na) {
		longer, shorter = nb, na
	}
	dist := levenshtein(longer, shorter)
	return float64(len(longer)-dist) / float64(len(longer))
}

// AmountCloseness scores two amounts in [0, 1]: 1 when equal, degrading
// with the relative difference, floored at 0.
func AmountCloseness(a, b decimal.Decimal) float64 {
	if a.Equal(b) {
		return 1.0
	}
	max := decimal.Max(a, b)
	if max.IsZero() {
		return 1.0
	}
	diff, _ := a.Sub(b).Abs().Div(max).Float64()
	if diff >= 1 {
		return 0.0
	}
	return 1 - diff
}

func levenshtein(a, b string) int {
	// Two-row rolling table; inputs are normalized ASCII so bytes suffice.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j-1]+cost, min(curr[j-1]+1, prev[j]+1))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
