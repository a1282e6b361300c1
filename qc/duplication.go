package qc

import (
	"fmt"
	"math"
	"sort"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/log"
	"github.com/grailbio/seqqc/encoding/fastq"
	"github.com/grailbio/seqqc/kmer"
)

// Duplication is estimated from the first PrefixLength bases of each read,
// enough to tell PCR duplicates apart without hashing whole reads.
const PrefixLength = 50

// Defaults for the duplication accumulator and its overrepresentation
// query. These are tuning constants, not derived values; callers with
// unusual libraries should pick their own.
const (
	DefaultMaxUniqueSequences = 100000
	DefaultFractionThreshold  = 0.0001
	DefaultMinThreshold       = 100
	DefaultMaxThreshold       = math.MaxInt64
)

const packedPrefixLength = (PrefixLength + 3) / 4

// dupEntry is one tracked sequence prefix. Entries live in a dense array
// in insertion order and never move, so slots can refer to them by index.
type dupEntry struct {
	count  uint64
	keyLen uint8
	key    [packedPrefixLength]byte
}

// dupSlot is one open-addressing slot: the key's 64-bit hash (0 marks the
// slot empty) and the index of its entry.
type dupSlot struct {
	hash  uint64
	entry int
}

// SequenceDuplication estimates sequence duplication levels by counting
// occurrences of 2-bit-packed read prefixes in a bounded hash table.
//
// The table is power-of-two sized with linear probing and is laid out so
// occupancy stays at or below 2/3 when the configured maximum number of
// unique sequences is tracked. Once that maximum is reached, new distinct
// prefixes are silently dropped while already-tracked prefixes keep
// counting; the read count at which the last slot filled is retained so
// callers can correct frequency estimates for the unseen remainder.
//
// Reads whose prefix contains an ambiguous (N) base are skipped silently.
// Reads with a character outside A/C/G/T/N are skipped with a warning.
type SequenceDuplication struct {
	maxUnique           int
	tableMask           uint64
	slots               []dupSlot
	entries             []dupEntry
	reads               uint64
	stoppedCollectingAt uint64
	warnedInvalid       bool
}

// NewSequenceDuplication returns an accumulator tracking at most maxUnique
// distinct prefixes.
func NewSequenceDuplication(maxUnique int) (*SequenceDuplication, error) {
	if maxUnique < 1 {
		return nil, fmt.Errorf("%w: max unique sequences should be at least 1, got %d",
			ErrInvalidArgument, maxUnique)
	}
	// The smallest power of two strictly above 1.5 * maxUnique keeps
	// occupancy at or below 2/3 at capacity.
	target := uint64(maxUnique) * 3 / 2
	size := uint64(1)
	for size <= target {
		size <<= 1
	}
	return &SequenceDuplication{
		maxUnique: maxUnique,
		tableMask: size - 1,
		slots:     make([]dupSlot, size),
	}, nil
}

// insert counts one prefix occurrence, adding a new entry if the prefix is
// unseen and capacity remains.
func (s *SequenceDuplication) insert(hash uint64, key []byte, keyLen int, count uint64) {
	index := hash & s.tableMask
	for {
		slot := &s.slots[index]
		if slot.hash == 0 {
			if len(s.entries) < s.maxUnique {
				entry := dupEntry{count: count, keyLen: uint8(keyLen)}
				copy(entry.key[:], key)
				s.entries = append(s.entries, entry)
				slot.hash = hash
				slot.entry = len(s.entries) - 1
				s.stoppedCollectingAt = s.reads
			}
			return
		}
		if slot.hash == hash {
			entry := &s.entries[slot.entry]
			if int(entry.keyLen) == keyLen && string(entry.key[:len(key)]) == string(key) {
				entry.count += count
				return
			}
		}
		index = (index + 1) & s.tableMask
	}
}

// Add counts one read's prefix.
func (s *SequenceDuplication) Add(v fastq.View) {
	s.reads++
	sequence := v.Sequence()
	prefix := sequence
	if len(prefix) > PrefixLength {
		prefix = prefix[:PrefixLength]
	}
	var key [packedPrefixLength]byte
	packed := key[:kmer.PackedLen(len(prefix))]
	switch kmer.PackBytes(packed, prefix) {
	case kmer.ContainsAmbiguous:
		return
	case kmer.ContainsInvalid:
		// Warn once per accumulator; a bad input would otherwise flood the
		// log at stream rate.
		if !s.warnedInvalid {
			s.warnedInvalid = true
			log.Error.Printf("sequence contains a character that is not A, C, G, T or N: %q", sequence)
		}
		return
	}
	hash := farm.Hash64(packed) | 1<<63
	s.insert(hash, packed, len(prefix), 1)
}

// NumberOfSequences returns the number of reads added, skipped ones
// included.
func (s *SequenceDuplication) NumberOfSequences() uint64 {
	return s.reads
}

// CollectedUniqueSequences returns the number of distinct prefixes tracked.
func (s *SequenceDuplication) CollectedUniqueSequences() int {
	return len(s.entries)
}

// MaxUniqueSequences returns the configured tracking capacity.
func (s *SequenceDuplication) MaxUniqueSequences() int {
	return s.maxUnique
}

// StoppedCollectingAt returns the read count at which the last free slot
// was taken. While capacity remains it tracks the most recent insertion.
func (s *SequenceDuplication) StoppedCollectingAt() uint64 {
	return s.stoppedCollectingAt
}

// SequenceCounts returns the tracked prefixes, decoded, with their counts.
func (s *SequenceDuplication) SequenceCounts() map[string]uint64 {
	counts := make(map[string]uint64, len(s.entries))
	for i := range s.entries {
		entry := &s.entries[i]
		counts[string(kmer.UnpackBytes(entry.key[:], int(entry.keyLen)))] = entry.count
	}
	return counts
}

// OverrepresentedSequence is one prefix whose occurrence count reached the
// overrepresentation threshold.
type OverrepresentedSequence struct {
	Count    uint64
	Fraction float64 // Count relative to all reads added
	Sequence string
}

// OverrepresentedSequences returns every tracked prefix whose count is at
// least ceil(fractionThreshold * reads), clamped to
// [minThreshold, maxThreshold], sorted by descending count and then by
// sequence.
func (s *SequenceDuplication) OverrepresentedSequences(fractionThreshold float64, minThreshold, maxThreshold int) ([]OverrepresentedSequence, error) {
	if fractionThreshold < 0 || fractionThreshold > 1 {
		return nil, fmt.Errorf("%w: fraction threshold should be between 0 and 1, got %g",
			ErrInvalidArgument, fractionThreshold)
	}
	if minThreshold < 1 {
		return nil, fmt.Errorf("%w: minimum threshold should be at least 1, got %d",
			ErrInvalidArgument, minThreshold)
	}
	if maxThreshold < minThreshold {
		return nil, fmt.Errorf("%w: maximum threshold %d is below minimum threshold %d",
			ErrInvalidArgument, maxThreshold, minThreshold)
	}
	hitThreshold := int64(math.Ceil(fractionThreshold * float64(s.reads)))
	if hitThreshold < int64(minThreshold) {
		hitThreshold = int64(minThreshold)
	}
	if hitThreshold > int64(maxThreshold) {
		hitThreshold = int64(maxThreshold)
	}
	var overrepresented []OverrepresentedSequence
	for i := range s.entries {
		entry := &s.entries[i]
		if entry.count >= uint64(hitThreshold) {
			overrepresented = append(overrepresented, OverrepresentedSequence{
				Count:    entry.count,
				Fraction: float64(entry.count) / float64(s.reads),
				Sequence: string(kmer.UnpackBytes(entry.key[:], int(entry.keyLen))),
			})
		}
	}
	sort.Slice(overrepresented, func(i, j int) bool {
		if overrepresented[i].Count != overrepresented[j].Count {
			return overrepresented[i].Count > overrepresented[j].Count
		}
		return overrepresented[i].Sequence < overrepresented[j].Sequence
	})
	return overrepresented, nil
}

// Merge folds the tracked prefixes of other into s, subject to s's
// capacity.
func (s *SequenceDuplication) Merge(other *SequenceDuplication) {
	s.reads += other.reads
	for i := range other.entries {
		entry := &other.entries[i]
		packed := entry.key[:kmer.PackedLen(int(entry.keyLen))]
		hash := farm.Hash64(packed) | 1<<63
		s.insert(hash, packed, int(entry.keyLen), entry.count)
	}
}
