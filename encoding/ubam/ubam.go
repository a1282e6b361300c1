// Package ubam adapts unaligned BAM input, the native output of Oxford
// Nanopore and PacBio basecallers, to the FASTQ record model. Records are
// converted as stored: sequences are nybble-decoded without reorienting
// reverse-complemented flags, qualities are re-encoded with the standard
// phred offset, and the basecaller's run metadata aux tags travel with
// each record.
package ubam

import (
	"fmt"
	"io"

	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/seqqc/encoding/fastq"
	"github.com/pkg/errors"
)

// Aux tags written by nanopore basecallers.
var (
	chTag = sam.Tag{'c', 'h'}
	duTag = sam.Tag{'d', 'u'}
	stTag = sam.Tag{'s', 't'}
)

// baseTable maps BAM 4-bit nucleotide codes to ASCII bases.
var baseTable = []byte("=ACMGRSVTWYHKDBN")

// Tags holds the run metadata of one record. Channel is -1 when the record
// carries no ch tag; StartTime is the raw st tag value, empty when absent.
type Tags struct {
	Channel   int32
	Duration  float64
	StartTime string
}

// ReaderOpts configures a Reader.
type ReaderOpts struct {
	// BatchSize is the maximum number of records per batch. Values < 1
	// select the default.
	BatchSize int
}

// DefaultReaderOpts is the default Reader configuration.
var DefaultReaderOpts = ReaderOpts{
	BatchSize: 1024,
}

// Reader converts unaligned BAM records into batches of FASTQ records.
// Every converted record passes the same validation as FASTQ text input;
// a record whose qualities are absent (0xff filled) is rejected rather
// than given fake phred scores. A Reader is not safe for concurrent use.
type Reader struct {
	br      *bam.Reader
	opts    ReaderOpts
	builder fastq.BatchBuilder
	seq     []byte // nybble decode scratch
	qual    []byte // phred encode scratch
	eof     bool
	err     error // sticky: once set, Next always returns it
}

// NewReader returns a Reader consuming the BAM stream r.
func NewReader(r io.Reader, opts ReaderOpts) (*Reader, error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultReaderOpts.BatchSize
	}
	br, err := bam.NewReader(r, 1)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read BAM header")
	}
	return &Reader{br: br, opts: opts}, nil
}

// Header returns the header of the BAM stream.
func (r *Reader) Header() *sam.Header {
	return r.br.Header()
}

// Next returns the next batch of records along with the run metadata of
// each, tags[i] belonging to batch.At(i). It returns io.EOF after the
// final record has been yielded; any other error is permanent.
func (r *Reader) Next() (*fastq.Batch, []Tags, error) {
	if r.err != nil {
		return nil, nil, r.err
	}
	b, tags, err := r.next()
	if err != nil {
		r.err = err
		return nil, nil, err
	}
	return b, tags, nil
}

func (r *Reader) next() (*fastq.Batch, []Tags, error) {
	tags := make([]Tags, 0, r.opts.BatchSize)
	for !r.eof && r.builder.Len() < r.opts.BatchSize {
		rec, err := r.br.Read()
		if rec == nil {
			if err != io.EOF {
				return nil, nil, errors.Wrap(err, "couldn't read BAM record")
			}
			r.eof = true
			break
		}
		t, err := r.convert(rec)
		sam.PutInFreePool(rec)
		if err != nil {
			return nil, nil, err
		}
		tags = append(tags, t)
	}
	if r.builder.Len() == 0 {
		return nil, nil, io.EOF
	}
	return r.builder.Batch(), tags, nil
}

// convert appends one BAM record to the pending batch. It copies all data
// out of rec, which may be recycled by the caller afterwards.
func (r *Reader) convert(rec *sam.Record) (Tags, error) {
	n := rec.Seq.Length
	if cap(r.seq) < n {
		r.seq = make([]byte, n)
	}
	r.seq = r.seq[:n]
	for i := 0; i < n; i++ {
		d := byte(rec.Seq.Seq[i>>1])
		if i&1 == 0 {
			d >>= 4
		} else {
			d &= 0x0f
		}
		r.seq[i] = baseTable[d]
	}
	if n > 0 && len(rec.Qual) > 0 && rec.Qual[0] == 0xff {
		return Tags{}, fmt.Errorf("%w: read %q has no base qualities", fastq.ErrMalformedRecord, rec.Name)
	}
	if cap(r.qual) < len(rec.Qual) {
		r.qual = make([]byte, len(rec.Qual))
	}
	r.qual = r.qual[:len(rec.Qual)]
	for i, q := range rec.Qual {
		r.qual[i] = q + fastq.PhredOffset
	}
	if err := r.builder.Add(gunsafe.StringToBytes(rec.Name), r.seq, r.qual); err != nil {
		return Tags{}, err
	}
	t := Tags{Channel: -1}
	if aux := rec.AuxFields.Get(chTag); aux != nil {
		switch v := aux.Value().(type) {
		case int8:
			t.Channel = int32(v)
		case uint8:
			t.Channel = int32(v)
		case int16:
			t.Channel = int32(v)
		case uint16:
			t.Channel = int32(v)
		case int32:
			t.Channel = v
		case uint32:
			t.Channel = int32(v)
		}
	}
	if aux := rec.AuxFields.Get(duTag); aux != nil {
		if v, ok := aux.Value().(float32); ok {
			t.Duration = float64(v)
		}
	}
	if aux := rec.AuxFields.Get(stTag); aux != nil {
		if v, ok := aux.Value().(string); ok {
			t.StartTime = v
		}
	}
	return t, nil
}

// Close releases the underlying BAM reader.
func (r *Reader) Close() error {
	return errors.Wrap(r.br.Close(), "couldn't close BAM reader")
}
