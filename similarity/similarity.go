// Package similarity scores how alike two worker results are and decides
// when the rounds of a collaborative session have stopped changing.
package similarity

import (
	"math"

	"github.com/itsneelabh/workforce/core"
)

const (
	// Neutral is returned when two results cannot be compared; it neither
	// confirms nor denies stability.
	Neutral = 0.5

	// ConfidenceMatch is returned when two confidence scores differ by less
	// than ConfidenceTolerance.
	ConfidenceMatch     = 0.9
	ConfidenceTolerance = 0.1
)

// Score compares two results. Confidence scores take precedence over
// textual output; anything else is Neutral. Score is symmetric.
func Score(a, b core.Result) float64 {
	ca, okA := a.Confidence()
	cb, okB := b.Confidence()
	if okA && okB {
		if math.Abs(ca-cb) < ConfidenceTolerance {
			return ConfidenceMatch
		}
		return Neutral
	}

	sa, okA := a.Output()
	sb, okB := b.Output()
	if okA && okB {
		return Text(sa, sb)
	}

	return Neutral
}

// Text returns the normalized edit-distance similarity of two strings:
// (len(longer) - distance) / len(longer), measured in runes.
func Text(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	if longer == 0 {
		return 1.0
	}
	return float64(longer-levenshtein(ra, rb)) / float64(longer)
}

// Distance returns the Levenshtein distance between two strings.
func Distance(a, b string) int {
	return levenshtein([]rune(a), []rune(b))
}

// levenshtein fills the full (n+1)x(m+1) dynamic-programming table.
func levenshtein(a, b []rune) int {
	rows, cols := len(a)+1, len(b)+1
	table := make([][]int, rows)
	for i := range table {
		table[i] = make([]int, cols)
		table[i][0] = i
	}
	for j := 0; j < cols; j++ {
		table[0][j] = j
	}

	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			table[i][j] = min(
				table[i-1][j]+1,      // deletion
				table[i][j-1]+1,      // insertion
				table[i-1][j-1]+cost, // substitution
			)
		}
	}
	return table[rows-1][cols-1]
}
