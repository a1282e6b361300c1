package fasta_test

import (
	"strings"
	"testing"

	"github.com/grailbio/seqqc/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const fastaData = ">Illumina Small RNA 5' Adapter\n" +
	"GTTCAGAGTTCTACAGTCCGACGATC\n" +
	">PhiX fragment\n" +
	"ACGTAC\nGAGGAC\nGCG\n" +
	">polyA\n" +
	"AAAA\n"

func TestNew(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	expect.EQ(t, fa.SeqNames(),
		[]string{"Illumina Small RNA 5' Adapter", "PhiX fragment", "polyA"})
}

func TestGet(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	tests := []struct {
		name       string
		start, end uint64
		want       string
		wantErr    bool
	}{
		{"PhiX fragment", 1, 2, "C", false},
		{"PhiX fragment", 6, 12, "GAGGAC", false},
		// Interrupted lines concatenate.
		{"PhiX fragment", 0, 15, "ACGTACGAGGACGCG", false},
		{"polyA", 0, 4, "AAAA", false},
		{"no such sequence", 0, 1, "", true},
		{"polyA", 3, 3, "", true},
		{"polyA", 4, 3, "", true},
		{"polyA", 0, 5, "", true},
	}
	for _, tt := range tests {
		got, err := fa.Get(tt.name, tt.start, tt.end)
		expect.EQ(t, err != nil, tt.wantErr, "%s [%d, %d)", tt.name, tt.start, tt.end)
		expect.EQ(t, got, tt.want, "%s [%d, %d)", tt.name, tt.start, tt.end)
	}
}

func TestLen(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	for _, tt := range []struct {
		name string
		want uint64
	}{
		{"Illumina Small RNA 5' Adapter", 26},
		{"PhiX fragment", 15},
		{"polyA", 4},
	} {
		got, err := fa.Len(tt.name)
		assert.NoError(t, err)
		expect.EQ(t, got, tt.want, "%s", tt.name)
	}
	_, err = fa.Len("no such sequence")
	expect.NotNil(t, err)
}

func TestNameHandling(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(">  spaced name  \nACGT\n"))
	assert.NoError(t, err)
	expect.EQ(t, fa.SeqNames(), []string{"spaced name"})

	// Carriage returns and blank lines are tolerated.
	fa, err = fasta.New(strings.NewReader(">crlf\r\nACGT\r\n\r\n>second\r\nTTTT\r\n"))
	assert.NoError(t, err)
	got, err := fa.Get("crlf", 0, 4)
	assert.NoError(t, err)
	expect.EQ(t, got, "ACGT")
	got, err = fa.Get("second", 0, 4)
	assert.NoError(t, err)
	expect.EQ(t, got, "TTTT")
}

func TestDuplicateNameKeepsLast(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(">dup\nAAAA\n>dup\nCCCC\n"))
	assert.NoError(t, err)
	expect.EQ(t, fa.SeqNames(), []string{"dup"})
	got, err := fa.Get("dup", 0, 4)
	assert.NoError(t, err)
	expect.EQ(t, got, "CCCC")
}

func TestEmptySequence(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(">only header\n"))
	assert.NoError(t, err)
	expect.EQ(t, fa.SeqNames(), []string{"only header"})
	length, err := fa.Len("only header")
	assert.NoError(t, err)
	expect.EQ(t, length, uint64(0))
}

func TestEmptyInput(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(""))
	assert.NoError(t, err)
	expect.EQ(t, len(fa.SeqNames()), 0)
}

func TestMalformedInput(t *testing.T) {
	for _, text := range []string{
		"ACGT\n>late header\nTTTT\n",
		">\nACGT\n",
		">   \nACGT\n",
	} {
		_, err := fasta.New(strings.NewReader(text))
		expect.NotNil(t, err, "%q", text)
	}
}
