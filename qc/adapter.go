package qc

import (
	"fmt"

	"github.com/grailbio/seqqc/encoding/fastq"
)

// MaxAdapterLength is the longest supported adapter sequence: the bit-
// parallel scan keeps one in-progress match bit per adapter character and
// packs them into a single machine word.
const MaxAdapterLength = 64

// adapterRef locates one adapter inside a packed matcher word.
type adapterRef struct {
	index     int // position in the adapter list passed at construction
	length    int
	foundMask uint64 // bit of the adapter's last character
}

// wordMatcher holds the Shift-Or state masks for up to a word's worth of
// adapter characters. Per read the scan computes, for every position,
// R = ((R << 1) | initMask) & bitmasks[base]: bit i of R is set iff the
// packed word's characters up to i match the read's characters ending at
// the current position. A set bit under foundMask is a completed adapter.
type wordMatcher struct {
	initMask  uint64
	foundMask uint64
	bitmasks  [NumNucleotides]uint64
	adapters  []adapterRef
}

// AdapterCounter counts, per adapter and per read position, how often the
// adapter's earliest occurrence in a read starts at that position. Adapters
// are matched exactly and case-insensitively; every non-ACGT character in
// an adapter or a read buckets as N and matches accordingly.
type AdapterCounter struct {
	adapters  []string
	matchers  []wordMatcher
	counts    [][]uint64 // per adapter, per start position
	maxLength int
	reads     uint64
}

// NewAdapterCounter builds a counter for the given adapters. The adapters
// are packed greedily, in input order, into as few matcher words as fit.
func NewAdapterCounter(adapters []string) (*AdapterCounter, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("%w: at least one adapter is expected", ErrInvalidArgument)
	}
	for _, adapter := range adapters {
		if len(adapter) == 0 {
			return nil, fmt.Errorf("%w: empty adapter", ErrInvalidArgument)
		}
		if len(adapter) > MaxAdapterLength {
			return nil, fmt.Errorf("%w: maximum adapter length is %d, got %d for %q",
				ErrInvalidArgument, MaxAdapterLength, len(adapter), adapter)
		}
		for i := 0; i < len(adapter); i++ {
			if adapter[i] >= 0x80 {
				return nil, fmt.Errorf("%w: adapter must contain only ASCII characters: %q",
					ErrInvalidArgument, adapter)
			}
		}
	}
	c := &AdapterCounter{
		adapters: adapters,
		counts:   make([][]uint64, len(adapters)),
	}
	index := 0
	for index < len(adapters) {
		var m wordMatcher
		wordIndex := uint(0)
		for index < len(adapters) {
			adapter := adapters[index]
			if wordIndex+uint(len(adapter)) > MaxAdapterLength {
				break
			}
			m.initMask |= 1 << wordIndex
			for i := 0; i < len(adapter); i++ {
				m.bitmasks[nucleotideIndex[adapter[i]]] |= 1 << (wordIndex + uint(i))
			}
			wordIndex += uint(len(adapter))
			ref := adapterRef{
				index:     index,
				length:    len(adapter),
				foundMask: 1 << (wordIndex - 1),
			}
			m.adapters = append(m.adapters, ref)
			m.foundMask |= ref.foundMask
			index++
		}
		c.matchers = append(c.matchers, m)
	}
	return c, nil
}

// resize grows every adapter's per-position counter to cover reads of
// length n, zero-filling the new region.
func (c *AdapterCounter) resize(n int) {
	for i := range c.counts {
		c.counts[i] = append(c.counts[i], make([]uint64, n-c.maxLength)...)
	}
	c.maxLength = n
}

// recordHits checks each not-yet-matched adapter of m against the match
// bits in R and counts a hit at the occurrence's start position. The
// returned mask carries the found bits of all matched adapters; a read
// counts each adapter once, at its earliest occurrence.
func (c *AdapterCounter) recordHits(m *wordMatcher, pos int, r, alreadyFound uint64) uint64 {
	for _, a := range m.adapters {
		if a.foundMask&alreadyFound != 0 {
			continue
		}
		if r&a.foundMask != 0 {
			c.counts[a.index][pos-a.length+1]++
			alreadyFound |= a.foundMask
		}
	}
	return alreadyFound
}

// scanWord runs one matcher over the read.
func (c *AdapterCounter) scanWord(m *wordMatcher, sequence []byte) {
	var r, alreadyFound uint64
	for pos := 0; pos < len(sequence); pos++ {
		r = ((r << 1) | m.initMask) & m.bitmasks[nucleotideIndex[sequence[pos]]]
		if r&m.foundMask != 0 {
			alreadyFound = c.recordHits(m, pos, r, alreadyFound)
		}
	}
}

// scanWordPair runs two matchers over the read in one pass. The two
// Shift-Or chains are independent, so interleaving them gives the CPU two
// dependency chains to execute out of order. Results are identical to two
// scanWord calls.
func (c *AdapterCounter) scanWordPair(m1, m2 *wordMatcher, sequence []byte) {
	var r1, r2, alreadyFound1, alreadyFound2 uint64
	for pos := 0; pos < len(sequence); pos++ {
		index := nucleotideIndex[sequence[pos]]
		r1 = ((r1 << 1) | m1.initMask) & m1.bitmasks[index]
		r2 = ((r2 << 1) | m2.initMask) & m2.bitmasks[index]
		if r1&m1.foundMask != 0 {
			alreadyFound1 = c.recordHits(m1, pos, r1, alreadyFound1)
		}
		if r2&m2.foundMask != 0 {
			alreadyFound2 = c.recordHits(m2, pos, r2, alreadyFound2)
		}
	}
}

// Add scans one read for all adapters.
func (c *AdapterCounter) Add(v fastq.View) {
	c.reads++
	sequence := v.Sequence()
	if len(sequence) > c.maxLength {
		c.resize(len(sequence))
	}
	i := 0
	for ; i+1 < len(c.matchers); i += 2 {
		c.scanWordPair(&c.matchers[i], &c.matchers[i+1], sequence)
	}
	if i < len(c.matchers) {
		c.scanWord(&c.matchers[i], sequence)
	}
}

// NumberOfReads returns the number of reads added so far.
func (c *AdapterCounter) NumberOfReads() uint64 {
	return c.reads
}

// Adapters returns the adapter list passed at construction.
func (c *AdapterCounter) Adapters() []string {
	return c.adapters
}

// Counts returns, per adapter, a copy of the per-start-position hit counts.
// The slices are sized to the longest read seen. It returns ErrEmptyState
// if no read has been added.
func (c *AdapterCounter) Counts() ([][]uint64, error) {
	if c.reads == 0 {
		return nil, fmt.Errorf("%w: no reads were added to the adapter counter", ErrEmptyState)
	}
	counts := make([][]uint64, len(c.counts))
	for i := range c.counts {
		counts[i] = make([]uint64, c.maxLength)
		copy(counts[i], c.counts[i])
	}
	return counts, nil
}

// Merge folds the counts of other into c. Both counters must have been
// constructed with the same adapter list.
func (c *AdapterCounter) Merge(other *AdapterCounter) error {
	if len(c.adapters) != len(other.adapters) {
		return fmt.Errorf("%w: merging counters with different adapter lists", ErrInvalidArgument)
	}
	for i := range c.adapters {
		if c.adapters[i] != other.adapters[i] {
			return fmt.Errorf("%w: merging counters with different adapter lists", ErrInvalidArgument)
		}
	}
	if other.maxLength > c.maxLength {
		c.resize(other.maxLength)
	}
	for i := range c.counts {
		for pos, count := range other.counts[i] {
			c.counts[i][pos] += count
		}
	}
	c.reads += other.reads
	return nil
}
