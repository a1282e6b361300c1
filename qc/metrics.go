package qc

import (
	"math"

	"github.com/grailbio/seqqc/encoding/fastq"
)

// BaseCount holds per-nucleotide counts for one read position, indexed by
// the N/A/C/G/T bucket constants.
type BaseCount [NumNucleotides]uint64

// PhredCount holds per-quality-bucket counts for one read position. Bucket
// i covers phred scores 4i..4i+3, with scores above 47 sharing the top
// bucket.
type PhredCount [NumPhredBuckets]uint64

// Metrics accumulates per-position nucleotide and quality composition plus
// GC-content and mean-quality histograms over a read stream.
//
// Per-position counts are staged in 16-bit counters and folded into the
// 64-bit tables once 65535 reads have accumulated, halving the memory
// bandwidth of the hot loop. Accessors fold eagerly, so staging is never
// observable.
type Metrics struct {
	maxLength    int
	stagingCount uint16
	stagingBase  []uint16 // maxLength rows of NumNucleotides
	stagingPhred []uint16 // maxLength rows of NumPhredBuckets
	baseCounts   []uint64
	phredCounts  []uint64
	reads        uint64
	gcContent    [101]uint64
	phredScores  [fastq.PhredMax + 1]uint64
}

// NewMetrics returns an empty Metrics accumulator.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// resize grows the per-position tables to cover reads of length n. Existing
// counts, staged ones included, are retained; the new region is zero.
func (m *Metrics) resize(n int) {
	grown := n - m.maxLength
	m.stagingBase = append(m.stagingBase, make([]uint16, grown*NumNucleotides)...)
	m.stagingPhred = append(m.stagingPhred, make([]uint16, grown*NumPhredBuckets)...)
	m.baseCounts = append(m.baseCounts, make([]uint64, grown*NumNucleotides)...)
	m.phredCounts = append(m.phredCounts, make([]uint64, grown*NumPhredBuckets)...)
	m.maxLength = n
}

func (m *Metrics) flushStaging() {
	if m.stagingCount == 0 {
		return
	}
	for i, c := range m.stagingBase {
		m.baseCounts[i] += uint64(c)
		m.stagingBase[i] = 0
	}
	for i, c := range m.stagingPhred {
		m.phredCounts[i] += uint64(c)
		m.stagingPhred[i] = 0
	}
	m.stagingCount = 0
}

// Add folds one read into the metrics.
func (m *Metrics) Add(v fastq.View) {
	sequence := v.Sequence()
	qualities := v.Qualities()
	length := len(sequence)
	if length > m.maxLength {
		m.resize(length)
	}
	m.reads++
	if m.stagingCount == math.MaxUint16 {
		m.flushStaging()
	}
	m.stagingCount++

	var baseCounts [NumNucleotides]uint64
	off := 0
	for _, c := range sequence {
		index := nucleotideIndex[c]
		baseCounts[index]++
		m.stagingBase[off+int(index)]++
		off += NumNucleotides
	}
	atCounts := baseCounts[A] + baseCounts[T]
	gcCounts := baseCounts[C] + baseCounts[G]
	// Reads consisting only of N bases have no defined GC content and are
	// left out of the histogram.
	if atCounts+gcCounts > 0 {
		percentage := float64(gcCounts) * 100.0 / float64(atCounts+gcCounts)
		m.gcContent[int(math.Round(percentage))]++
	}

	off = 0
	for _, c := range qualities {
		// Views are validated at construction, so the subtraction cannot
		// exceed PhredMax.
		m.stagingPhred[off+int(phredIndex(c-fastq.PhredOffset))]++
		off += NumPhredBuckets
	}
	if length > 0 {
		averageErrorRate := v.CumulativeErrorRate() / float64(length)
		averagePhred := -10.0 * math.Log10(averageErrorRate)
		m.phredScores[int(math.Round(averagePhred))]++
	}
}

// NumberOfReads returns the number of reads added so far.
func (m *Metrics) NumberOfReads() uint64 {
	return m.reads
}

// MaxLength returns the length of the longest read seen.
func (m *Metrics) MaxLength() int {
	return m.maxLength
}

// BaseCounts returns a copy of the per-position nucleotide count table.
func (m *Metrics) BaseCounts() []BaseCount {
	m.flushStaging()
	counts := make([]BaseCount, m.maxLength)
	for pos := range counts {
		copy(counts[pos][:], m.baseCounts[pos*NumNucleotides:])
	}
	return counts
}

// PhredCounts returns a copy of the per-position quality-bucket count table.
func (m *Metrics) PhredCounts() []PhredCount {
	m.flushStaging()
	counts := make([]PhredCount, m.maxLength)
	for pos := range counts {
		copy(counts[pos][:], m.phredCounts[pos*NumPhredBuckets:])
	}
	return counts
}

// GCContent returns a copy of the GC-percentage histogram. Bucket i counts
// reads whose GC percentage rounds to i.
func (m *Metrics) GCContent() []uint64 {
	histogram := make([]uint64, len(m.gcContent))
	copy(histogram, m.gcContent[:])
	return histogram
}

// PhredScores returns a copy of the mean-quality histogram. Bucket i counts
// reads whose mean phred score rounds to i.
func (m *Metrics) PhredScores() []uint64 {
	histogram := make([]uint64, len(m.phredScores))
	copy(histogram, m.phredScores[:])
	return histogram
}

// Merge folds the counts of other into m. The shorter table is padded to
// the longer one. Other is left flushed but otherwise unchanged.
func (m *Metrics) Merge(other *Metrics) {
	m.flushStaging()
	other.flushStaging()
	if other.maxLength > m.maxLength {
		m.resize(other.maxLength)
	}
	for i, c := range other.baseCounts {
		m.baseCounts[i] += c
	}
	for i, c := range other.phredCounts {
		m.phredCounts[i] += c
	}
	for i, c := range other.gcContent {
		m.gcContent[i] += c
	}
	for i, c := range other.phredScores {
		m.phredScores[i] += c
	}
	m.reads += other.reads
}
