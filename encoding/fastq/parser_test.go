package fastq

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

const fq = `@M01234:56:000000000-A1B2C:1:1101:15589:1332 1:N:0:1
GATCGGAAGAGCACACGTCTGAACTCCAGTCACATCACGATCTCGTATGC
+
CCCCCGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGF
@M01234:56:000000000-A1B2C:1:1101:14232:1333 1:N:0:1
TTAGACATATCTCCGTCGTAGGGNNACGTACGTAACCGGTTAACCGGTTA
+
AAFFFJJJJJJJJJJJJJJJJJJ##JJJJJJJJJJJJJJJJJJJJJJJJA
@M01234:56:000000000-A1B2C:1:1101:18041:1334 1:N:0:1
CACGTACGTATTTTTTTTTTTTTTTTTTTTAACCGGTTAACCGGTTACGT
+
AAFFFJJJJJJJJJJ!!!!!!JJJJJJJJJJJJJJJJJJJJJ~~JJJJJA
@M01234:56:000000000-A1B2C:1:1101:19705:1335 1:N:0:1

+

`

// parseAll drains a parser over s, returning the encoded form of every
// record in order.
func parseAll(s string, opts ParserOpts) ([]string, error) {
	p := NewParser(strings.NewReader(s), opts)
	var records []string
	for {
		b, err := p.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		for i := 0; i < b.Len(); i++ {
			records = append(records, string(b.At(i).Record()))
		}
	}
}

func TestParser(t *testing.T) {
	p := NewParser(strings.NewReader(fq), DefaultParserOpts)
	b, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := b.Len(), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	v := b.At(0)
	if got, want := string(v.Name()), "M01234:56:000000000-A1B2C:1:1101:15589:1332 1:N:0:1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := string(v.Sequence()), "GATCGGAAGAGCACACGTCTGAACTCCAGTCACATCACGATCTCGTATGC"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := string(v.Qualities()), "CCCCCGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGF"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b.At(3).Len(), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("got %v, want %v", err, io.EOF)
	}
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("got %v, want %v", err, io.EOF)
	}
}

// Records must come out identical no matter how the input is sliced into
// chunks, including chunks of a single byte.
func TestParserChunkBoundaries(t *testing.T) {
	want, err := parseAll(fq, DefaultParserOpts)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.Join(want, ""), fq; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for chunk := 1; chunk <= len(fq)+1; chunk++ {
		got, err := parseAll(fq, ParserOpts{ChunkSize: chunk})
		if err != nil {
			t.Fatalf("chunk %d: %v", chunk, err)
		}
		if len(got) != len(want) {
			t.Fatalf("chunk %d: got %d records, want %d", chunk, len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("chunk %d, record %d: got %v, want %v", chunk, i, got[i], want[i])
			}
		}
	}
}

// shortReader yields at most max bytes per Read call, decoupling read
// granularity from the parser's chunk size.
type shortReader struct {
	r   io.Reader
	max int
}

func (s shortReader) Read(p []byte) (int, error) {
	if len(p) > s.max {
		p = p[:s.max]
	}
	return s.r.Read(p)
}

func TestParserShortReads(t *testing.T) {
	want, err := parseAll(fq, DefaultParserOpts)
	if err != nil {
		t.Fatal(err)
	}
	for _, max := range []int{1, 2, 3, 7, 64} {
		p := NewParser(shortReader{r: strings.NewReader(fq), max: max}, ParserOpts{ChunkSize: 16})
		var got []string
		for {
			b, err := p.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("max %d: %v", max, err)
			}
			for i := 0; i < b.Len(); i++ {
				got = append(got, string(b.At(i).Record()))
			}
		}
		if len(got) != len(want) {
			t.Fatalf("max %d: got %d records, want %d", max, len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("max %d, record %d: got %v, want %v", max, i, got[i], want[i])
			}
		}
	}
}

// A record larger than the chunk size must force the working buffer to
// grow until the record completes.
func TestParserRecordLargerThanChunk(t *testing.T) {
	seq := strings.Repeat("ACGT", 1000)
	qual := strings.Repeat("IJKL", 1000)
	in := "@big\n" + seq + "\n+\n" + qual + "\n"
	got, err := parseAll(in, ParserOpts{ChunkSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != in {
		t.Errorf("got %d records, want the input back unchanged", len(got))
	}
}

func TestParserEmptyInput(t *testing.T) {
	got, err := parseAll("", DefaultParserOpts)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d records, want 0", len(got))
	}
}

func TestParserErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		in   string
		want error
	}{
		{"garbage", "1231#\nACGT\n+\nIIII\n", ErrMalformedRecord},
		{"missing at", "a\nACGT\n+\nIIII\n", ErrMalformedRecord},
		{"missing plus", "@a\nACGT\nX\nIIII\n", ErrMalformedRecord},
		{"length mismatch", "@a\nACGT\n+\nIII\n", ErrMalformedRecord},
		{"bad phred", "@a\nACGT\n+\nII I\n", ErrInvalidQuality},
		{"non-ascii", "@a\nAC\xc3\xa9T\n+\nIIII\n", ErrEncoding},
		{"truncated name", "@a", ErrTruncatedRecord},
		{"truncated sequence", "@a\nACG", ErrTruncatedRecord},
		{"truncated qualities", "@a\nACGT\n+\nII", ErrTruncatedRecord},
		{"missing final newline", "@a\nACGT\n+\nIIII", ErrTruncatedRecord},
	} {
		for _, chunk := range []int{0, 1, 3} {
			_, err := parseAll(test.in, ParserOpts{ChunkSize: chunk})
			if !errors.Is(err, test.want) {
				t.Errorf("%s (chunk %d): got %v, want %v", test.name, chunk, err, test.want)
			}
		}
	}
}

// The error after a malformed record arrives only once the scan reaches
// it; records before it are still yielded.
func TestParserRecordsBeforeError(t *testing.T) {
	in := "@a\nAC\n+\nII\nbroken"
	p := NewParser(strings.NewReader(in), DefaultParserOpts)
	b, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := b.Len(), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := p.Next(); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("got %v, want %v", err, ErrMalformedRecord)
	}
}

func TestParserStickyError(t *testing.T) {
	p := NewParser(strings.NewReader("@a\nACGT\n+\nII"), DefaultParserOpts)
	_, first := p.Next()
	if !errors.Is(first, ErrTruncatedRecord) {
		t.Fatalf("got %v, want %v", first, ErrTruncatedRecord)
	}
	_, second := p.Next()
	if second != first {
		t.Errorf("got %v, want %v", second, first)
	}
}

type failReader struct{}

func (failReader) Read(p []byte) (int, error) {
	return 0, errors.New("device offline")
}

func TestParserSourceError(t *testing.T) {
	p := NewParser(failReader{}, DefaultParserOpts)
	_, err := p.Next()
	if err == nil || err.Error() != "device offline" {
		t.Errorf("got %v, want device offline", err)
	}
	_, again := p.Next()
	if again != err {
		t.Errorf("got %v, want %v", again, err)
	}
}

// The parser and the single-record builder must agree on the cumulative
// error rate.
func TestParserCumulativeErrorRate(t *testing.T) {
	p := NewParser(strings.NewReader(fq), DefaultParserOpts)
	b, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < b.Len(); i++ {
		v := b.At(i)
		built, err := NewView(string(v.Name()), string(v.Sequence()), string(v.Qualities()))
		if err != nil {
			t.Fatal(err)
		}
		if got, want := v.CumulativeErrorRate(), built.CumulativeErrorRate(); got != want {
			t.Errorf("record %d: got %v, want %v", i, got, want)
		}
		if !bytes.Equal(v.Record(), built.Record()) {
			t.Errorf("record %d: encodings differ", i)
		}
	}
}
