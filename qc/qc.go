// Package qc implements streaming quality-control accumulators over FASTQ
// records: per-position base and quality composition, adapter contamination,
// per-tile quality, sequence duplication, and nanopore-specific metadata.
//
// Every accumulator consumes record views produced by encoding/fastq and
// performs a single pass over each read with O(1) amortized work per base.
// Accumulators are independent plain data structures without internal
// locking; the intended scaling strategy is one accumulator set per worker
// shard, merged at the end with the accumulators' Merge methods.
package qc

import (
	"errors"
	"math"

	"github.com/grailbio/seqqc/encoding/fastq"
)

var (
	// ErrInvalidArgument is returned on construction-time misuse, such as
	// an empty adapter list or a nonpositive capacity.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmptyState is returned when results are requested before any read
	// has been added.
	ErrEmptyState = errors.New("no reads were processed")
)

// Nucleotide bucket indices. Case-insensitive; every character other than
// ACGT, including IUPAC ambiguity codes, buckets as N.
const (
	N = 0
	A = 1
	C = 2
	G = 3
	T = 4

	NumNucleotides = 5
)

// Phred scores above phredBucketLimit share the top quality bucket.
const (
	phredBucketLimit = 47
	NumPhredBuckets  = phredBucketLimit/4 + 1
)

var nucleotideIndex [256]uint8

// scoreToErrorRate[q] is the error probability of phred score q. Identical
// to the table the record parser uses for cumulative error rates.
var scoreToErrorRate [fastq.PhredMax + 1]float64

func init() {
	nucleotideIndex['A'], nucleotideIndex['a'] = A, A
	nucleotideIndex['C'], nucleotideIndex['c'] = C, C
	nucleotideIndex['G'], nucleotideIndex['g'] = G, G
	nucleotideIndex['T'], nucleotideIndex['t'] = T, T
	for q := range scoreToErrorRate {
		scoreToErrorRate[q] = math.Pow(10.0, -float64(q)/10.0)
	}
}

func phredIndex(q uint8) uint8 {
	if q > phredBucketLimit {
		q = phredBucketLimit
	}
	return q >> 2
}
