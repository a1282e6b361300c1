// Package seqident identifies overrepresented sequences against databases
// of known adapters and contaminants. A two-column Smith-Waterman variant
// scores candidate matches while tracking how many query characters the
// alignment pairs up, so results read directly as fractional sequence
// identity.
package seqident

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned on construction-time misuse, such as an
// oversized query or an even identification window.
var ErrInvalidArgument = errors.New("invalid argument")

// MaxQueryLength is the longest supported query. The scorer keeps
// per-query-position state in two fixed columns.
const MaxQueryLength = 31

// Scores parameterizes the alignment recurrence. The penalties are
// expected to be negative.
type Scores struct {
	Match     int
	Mismatch  int
	Insertion int
	Deletion  int
}

// DefaultScores rewards matches with unit score and penalizes every edit
// alike.
var DefaultScores = Scores{Match: 1, Mismatch: -1, Insertion: -1, Deletion: -1}

type identityCell struct {
	score   int
	matches int
}

// upperTable folds ASCII a-z onto A-Z and leaves every other byte alone.
var upperTable [256]byte

func init() {
	for i := range upperTable {
		c := byte(i)
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upperTable[i] = c
	}
}

// Identity returns the fraction of query characters matched by the best
// local alignment of query against target, in [0, 1]. Characters compare
// case-insensitively. Only two score columns are retained and no traceback
// is performed, so memory use is independent of the target length.
//
// Next to its score, every cell carries how many query characters the
// alignment behind it matched. The highest such count among the best
// scoring cells, divided by the query length, is the identity.
func Identity(target, query string, scores Scores) (float64, error) {
	if len(query) == 0 || len(query) > MaxQueryLength {
		return 0, fmt.Errorf("%w: query length must be in [1, %d], got %d",
			ErrInvalidArgument, MaxQueryLength, len(query))
	}
	for i := 0; i < len(query); i++ {
		if query[i] >= 0x80 {
			return 0, fmt.Errorf("%w: query contains a non-ASCII character: %q", ErrInvalidArgument, query)
		}
	}
	for i := 0; i < len(target); i++ {
		if target[i] >= 0x80 {
			return 0, fmt.Errorf("%w: target contains a non-ASCII character: %q", ErrInvalidArgument, target)
		}
	}
	var prev, next [MaxQueryLength + 1]identityCell
	highestScore, mostMatches := 0, 0
	for i := 0; i < len(target); i++ {
		targetChar := upperTable[target[i]]
		for j := 1; j <= len(query); j++ {
			diag := prev[j-1]
			var score, matches int
			if upperTable[query[j-1]] == targetChar {
				score, matches = diag.score+scores.Match, diag.matches+1
			} else {
				score, matches = diag.score+scores.Mismatch, diag.matches
			}
			insertionScore := prev[j].score + scores.Insertion
			deletionScore := next[j-1].score + scores.Deletion
			if insertionScore > score || deletionScore > score {
				if insertionScore >= deletionScore {
					// A target character aligned against a gap leaves all
					// query characters free to match elsewhere, so one
					// match is deducted as the gap cost.
					score, matches = insertionScore, prev[j].matches-1
				} else {
					// A query character aligned against a gap already
					// forfeited its own match; nothing extra to deduct.
					score, matches = deletionScore, next[j-1].matches
				}
			}
			if score < 0 {
				score, matches = 0, 0
			}
			next[j] = identityCell{score: score, matches: matches}
			if score == highestScore && matches > mostMatches {
				mostMatches = matches
			} else if score > highestScore {
				highestScore, mostMatches = score, matches
			}
		}
		prev = next
	}
	return float64(mostMatches) / float64(len(query)), nil
}
