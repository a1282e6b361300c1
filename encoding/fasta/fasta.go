// Package fasta parses FASTA-formatted sequence collections, such as the
// adapter and contaminant databases consulted when identifying
// overrepresented reads. FASTA input consists of named sequences whose
// bases may be interrupted by newlines:
//
// >Illumina TruSeq Adapter, Read 1
// AGATCGGAAGAGCACACGTCTGAACTCCAGTCA
// >PhiX genome fragment
// GAGTTTTATCGCTTCCATGACGCAG
//
// The sequence name is the entire header line after '>' with surrounding
// whitespace trimmed. Contaminant names routinely contain spaces, so no
// splitting at the first space takes place.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Sequence lines are capped rather than whole sequences: a single-line
// sequence may be arbitrarily long.
const maxLineLength = 300 << 20

// Fasta is a set of named sequences held in memory.
type Fasta interface {
	// Get returns a substring of the named sequence over the 0-based
	// half-open interval [start, end).
	Get(name string, start, end uint64) (string, error)

	// Len returns the length of the named sequence.
	Len(name string) (uint64, error)

	// SeqNames returns all sequence names, in order of appearance.
	SeqNames() []string
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New reads all FASTA data from r into memory. A name that repeats within
// the input keeps the last sequence stored under it.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineLength)
	name := ""
	sawHeader := false
	var seq strings.Builder
	flush := func() {
		if _, ok := f.seqs[name]; !ok {
			f.seqNames = append(f.seqNames, name)
		}
		f.seqs[name] = seq.String()
		seq.Reset()
	}
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if sawHeader {
				flush()
			}
			name = strings.TrimSpace(line[1:])
			if name == "" {
				return nil, errors.New("sequence with an empty name")
			}
			sawHeader = true
			continue
		}
		if !sawHeader {
			return nil, errors.Errorf("sequence data before the first header: %q", line)
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read FASTA data")
	}
	if sawHeader {
		flush()
	}
	return f, nil
}

// Get implements Fasta.Get().
func (f *fasta) Get(name string, start, end uint64) (string, error) {
	s, ok := f.seqs[name]
	if !ok {
		return "", errors.Errorf("sequence not found: %s", name)
	}
	if end <= start {
		return "", errors.New("start must be less than end")
	}
	if end > uint64(len(s)) {
		return "", errors.Errorf("invalid query range [%d, %d) for sequence %s with length %d",
			start, end, name, len(s))
	}
	return s[start:end], nil
}

// Len implements Fasta.Len().
func (f *fasta) Len(name string) (uint64, error) {
	s, ok := f.seqs[name]
	if !ok {
		return 0, errors.Errorf("sequence not found: %s", name)
	}
	return uint64(len(s)), nil
}

// SeqNames implements Fasta.SeqNames().
func (f *fasta) SeqNames() []string {
	return f.seqNames
}
