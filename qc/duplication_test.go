package qc

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func addSequence(t *testing.T, s *SequenceDuplication, sequence string, n int) {
	t.Helper()
	v := testView(t, "r", sequence, strings.Repeat("I", len(sequence)))
	for i := 0; i < n; i++ {
		s.Add(v)
	}
}

func TestSequenceDuplicationCounts(t *testing.T) {
	s, err := NewSequenceDuplication(DefaultMaxUniqueSequences)
	assert.NoError(t, err)
	addSequence(t, s, "ACGT", 2)
	addSequence(t, s, "acgt", 1) // case folds onto the previous prefix
	addSequence(t, s, "TTTT", 1)
	expect.EQ(t, s.NumberOfSequences(), uint64(4))
	expect.EQ(t, s.CollectedUniqueSequences(), 2)
	expect.EQ(t, s.SequenceCounts(), map[string]uint64{
		"ACGT": 3,
		"TTTT": 1,
	})
}

func TestSequenceDuplicationUsesPrefix(t *testing.T) {
	s, err := NewSequenceDuplication(DefaultMaxUniqueSequences)
	assert.NoError(t, err)
	prefix := strings.Repeat("AC", PrefixLength/2)
	// Reads differing beyond the prefix length count as one sequence.
	addSequence(t, s, prefix+"GGGGG", 1)
	addSequence(t, s, prefix+"TTTTTTTTTT", 1)
	addSequence(t, s, prefix, 1)
	expect.EQ(t, s.CollectedUniqueSequences(), 1)
	expect.EQ(t, s.SequenceCounts(), map[string]uint64{prefix: 3})
}

func TestSequenceDuplicationLengthDisambiguation(t *testing.T) {
	// "A" and "AA" pack to identical bytes and hash alike; the stored
	// length keeps them apart.
	s, err := NewSequenceDuplication(DefaultMaxUniqueSequences)
	assert.NoError(t, err)
	addSequence(t, s, "A", 1)
	addSequence(t, s, "AA", 1)
	expect.EQ(t, s.CollectedUniqueSequences(), 2)
	expect.EQ(t, s.SequenceCounts(), map[string]uint64{"A": 1, "AA": 1})
}

func TestSequenceDuplicationCapacity(t *testing.T) {
	s, err := NewSequenceDuplication(2)
	assert.NoError(t, err)
	addSequence(t, s, "AAAA", 1)
	addSequence(t, s, "CCCC", 1)
	addSequence(t, s, "GGGG", 1) // over capacity, dropped
	addSequence(t, s, "AAAA", 1) // already tracked, still counted
	expect.EQ(t, s.NumberOfSequences(), uint64(4))
	expect.EQ(t, s.CollectedUniqueSequences(), 2)
	expect.EQ(t, s.MaxUniqueSequences(), 2)
	expect.EQ(t, s.StoppedCollectingAt(), uint64(2))
	expect.EQ(t, s.SequenceCounts(), map[string]uint64{
		"AAAA": 2,
		"CCCC": 1,
	})
}

func TestSequenceDuplicationSkipsAmbiguous(t *testing.T) {
	s, err := NewSequenceDuplication(DefaultMaxUniqueSequences)
	assert.NoError(t, err)
	addSequence(t, s, "ACGNACGT", 1) // N in prefix, skipped silently
	addSequence(t, s, "ACGXACGT", 1) // invalid character, skipped loudly
	expect.EQ(t, s.NumberOfSequences(), uint64(2))
	expect.EQ(t, s.CollectedUniqueSequences(), 0)

	// An N beyond the prefix does not disqualify the read.
	addSequence(t, s, strings.Repeat("A", PrefixLength)+"N", 1)
	expect.EQ(t, s.CollectedUniqueSequences(), 1)
	expect.EQ(t, s.SequenceCounts(), map[string]uint64{strings.Repeat("A", PrefixLength): 1})
}

func TestSequenceDuplicationTableSizing(t *testing.T) {
	for _, tc := range []struct {
		maxUnique int
		wantMask  uint64
	}{
		{1, 1},
		{2, 3},
		{4, 7},
		{5, 7},
		{6, 15},
		{85, 127},
		{100000, 262143},
	} {
		s, err := NewSequenceDuplication(tc.maxUnique)
		assert.NoError(t, err)
		expect.EQ(t, s.tableMask, tc.wantMask, "maxUnique %d", tc.maxUnique)
	}
}

func TestSequenceDuplicationManySequences(t *testing.T) {
	const bases = "ACGT"
	sequenceAt := func(i int) string {
		b := make([]byte, 10)
		for j := range b {
			b[j] = bases[i&3]
			i >>= 2
		}
		return string(b)
	}
	s, err := NewSequenceDuplication(500)
	assert.NoError(t, err)
	for pass := 0; pass < 2; pass++ {
		for i := 0; i < 1000; i++ {
			addSequence(t, s, sequenceAt(i), 1)
		}
	}
	expect.EQ(t, s.NumberOfSequences(), uint64(2000))
	expect.EQ(t, s.CollectedUniqueSequences(), 500)
	expect.EQ(t, s.StoppedCollectingAt(), uint64(500))
	counts := s.SequenceCounts()
	expect.EQ(t, len(counts), 500)
	// The first 500 distinct prefixes were tracked and seen once per pass.
	for i := 0; i < 500; i++ {
		expect.EQ(t, counts[sequenceAt(i)], uint64(2), "sequence %d", i)
	}
}

func TestOverrepresentedSequences(t *testing.T) {
	s, err := NewSequenceDuplication(10)
	assert.NoError(t, err)
	addSequence(t, s, "AAAA", 60)
	addSequence(t, s, "CCCC", 35)
	addSequence(t, s, "TTTT", 35)
	addSequence(t, s, "GGGG", 5)
	// 135 reads; threshold ceil(0.25 * 135) = 34.
	got, err := s.OverrepresentedSequences(0.25, 1, math.MaxInt64)
	assert.NoError(t, err)
	expect.EQ(t, got, []OverrepresentedSequence{
		{Count: 60, Fraction: 60.0 / 135.0, Sequence: "AAAA"},
		{Count: 35, Fraction: 35.0 / 135.0, Sequence: "CCCC"},
		{Count: 35, Fraction: 35.0 / 135.0, Sequence: "TTTT"},
	})

	// The minimum threshold takes over when the fraction is tiny.
	got, err = s.OverrepresentedSequences(0.0001, 36, math.MaxInt64)
	assert.NoError(t, err)
	expect.EQ(t, got, []OverrepresentedSequence{
		{Count: 60, Fraction: 60.0 / 135.0, Sequence: "AAAA"},
	})

	// The maximum threshold caps an impossibly high fraction.
	got, err = s.OverrepresentedSequences(1.0, 1, 50)
	assert.NoError(t, err)
	expect.EQ(t, got, []OverrepresentedSequence{
		{Count: 60, Fraction: 60.0 / 135.0, Sequence: "AAAA"},
	})
}

func TestOverrepresentedSequencesErrors(t *testing.T) {
	s, err := NewSequenceDuplication(10)
	assert.NoError(t, err)
	for _, tc := range []struct {
		fraction float64
		min, max int
	}{
		{-0.1, 1, 100},
		{1.5, 1, 100},
		{0.1, 0, 100},
		{0.1, 100, 99},
	} {
		_, err := s.OverrepresentedSequences(tc.fraction, tc.min, tc.max)
		expect.True(t, errors.Is(err, ErrInvalidArgument), "%+v", tc)
	}
}

func TestNewSequenceDuplicationErrors(t *testing.T) {
	for _, maxUnique := range []int{0, -5} {
		_, err := NewSequenceDuplication(maxUnique)
		expect.True(t, errors.Is(err, ErrInvalidArgument), "maxUnique %d", maxUnique)
	}
}

func TestSequenceDuplicationMerge(t *testing.T) {
	s1, err := NewSequenceDuplication(10)
	assert.NoError(t, err)
	s2, err := NewSequenceDuplication(10)
	assert.NoError(t, err)
	addSequence(t, s1, "AAAA", 2)
	addSequence(t, s1, "CCCC", 1)
	addSequence(t, s2, "AAAA", 1)
	addSequence(t, s2, "GGGG", 3)
	s1.Merge(s2)
	expect.EQ(t, s1.NumberOfSequences(), uint64(7))
	expect.EQ(t, s1.SequenceCounts(), map[string]uint64{
		"AAAA": 3,
		"CCCC": 1,
		"GGGG": 3,
	})
}

func TestSequenceDuplicationMergeRespectsCapacity(t *testing.T) {
	s1, err := NewSequenceDuplication(2)
	assert.NoError(t, err)
	s2, err := NewSequenceDuplication(2)
	assert.NoError(t, err)
	addSequence(t, s1, "AAAA", 1)
	addSequence(t, s1, "CCCC", 1)
	addSequence(t, s2, "GGGG", 5)
	s1.Merge(s2)
	expect.EQ(t, s1.NumberOfSequences(), uint64(7))
	expect.EQ(t, s1.CollectedUniqueSequences(), 2)
	expect.EQ(t, s1.SequenceCounts(), map[string]uint64{
		"AAAA": 1,
		"CCCC": 1,
	})
}
