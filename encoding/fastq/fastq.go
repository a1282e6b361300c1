// Package fastq implements the record model shared by every accumulator in
// this repository: a streaming FASTQ parser that yields batches of
// lightweight record descriptors pointing into one immutable byte buffer,
// plus a builder for free-standing single records. Buffers hold records in
// the canonical four-line layout (@name\nsequence\n+\nqualities\n) and are
// never mutated after construction, so views may be shared freely across
// goroutines.
package fastq

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEncoding is returned when input contains a byte outside 7-bit ASCII.
	ErrEncoding = errors.New("non-ASCII data")
	// ErrMalformedRecord is returned on a FASTQ grammar violation: a missing
	// @ or + marker, or sequence and qualities of unequal length.
	ErrMalformedRecord = errors.New("malformed FASTQ record")
	// ErrTruncatedRecord is returned when input ends in the middle of a
	// record.
	ErrTruncatedRecord = errors.New("truncated FASTQ record")
	// ErrInvalidQuality is returned when a quality character decodes outside
	// the representable phred range.
	ErrInvalidQuality = errors.New("invalid phred quality")
	// ErrOverflow is returned when one encoded record would exceed the 4 GiB
	// descriptor limit.
	ErrOverflow = errors.New("FASTQ record too large")
)

const (
	// PhredOffset is subtracted from a quality character to obtain its
	// phred score.
	PhredOffset = 33
	// PhredMax is the highest representable phred score.
	PhredMax = 93
)

// phredToErrorRate[q] is the error probability of phred score q.
var phredToErrorRate [PhredMax + 1]float64

func init() {
	for q := range phredToErrorRate {
		phredToErrorRate[q] = math.Pow(10.0, -float64(q)/10.0)
	}
}

// accumulateError sums the per-base error probabilities of a quality string,
// validating every character against the phred range.
func accumulateError(qual []byte) (float64, error) {
	var rate float64
	for _, c := range qual {
		q := c - PhredOffset
		if q > PhredMax {
			return 0, fmt.Errorf("%w: not a valid phred character: %q", ErrInvalidQuality, c)
		}
		rate += phredToErrorRate[q]
	}
	return rate, nil
}

// indexNonASCII returns the index of the first byte outside 7-bit ASCII, or
// -1 if there is none.
func indexNonASCII(s []byte) int {
	for i, c := range s {
		if c >= 0x80 {
			return i
		}
	}
	return -1
}
