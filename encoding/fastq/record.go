package fastq

import (
	"fmt"
	"math"

	gunsafe "github.com/grailbio/base/unsafe"
)

// Meta locates one record inside a shared buffer. Offsets are absolute into
// the buffer and fit in 32 bits; sequence and qualities share one length
// because the grammar requires them to be equal. The cumulative error rate,
// the sum over all bases of 10^(-phred/10), is computed once at construction
// and reused by every downstream consumer. A Meta is immutable once built.
type Meta struct {
	nameLen uint32
	seqOff  uint32
	seqLen  uint32
	qualOff uint32
	cumErr  float64
}

// View is one record descriptor plus a reference to the buffer it points
// into. It is a small value type; copying it never copies record data.
type View struct {
	buf  []byte
	meta Meta
}

// Name returns the record name, excluding the leading '@'.
func (v View) Name() []byte {
	start := v.meta.seqOff - v.meta.nameLen - 1
	return v.buf[start : start+v.meta.nameLen]
}

// Sequence returns the nucleotide sequence.
func (v View) Sequence() []byte {
	return v.buf[v.meta.seqOff : v.meta.seqOff+v.meta.seqLen]
}

// Qualities returns the phred-encoded quality string. It always has the
// same length as Sequence.
func (v View) Qualities() []byte {
	return v.buf[v.meta.qualOff : v.meta.qualOff+v.meta.seqLen]
}

// Len returns the sequence length.
func (v View) Len() int {
	return int(v.meta.seqLen)
}

// CumulativeErrorRate returns the precomputed sum of per-base error
// probabilities.
func (v View) CumulativeErrorRate() float64 {
	return v.meta.cumErr
}

// Record returns the full encoded record, @ through trailing newline.
func (v View) Record() []byte {
	start := v.meta.seqOff - v.meta.nameLen - 2
	return v.buf[start : v.meta.qualOff+v.meta.seqLen+1]
}

// Batch is an ordered set of records sharing one buffer. It is immutable
// once yielded by the parser.
type Batch struct {
	buf   []byte
	metas []Meta
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.metas)
}

// At returns a view of record i. The view shares the batch's buffer, so it
// remains valid independently of the batch itself.
func (b *Batch) At(i int) View {
	return View{buf: b.buf, meta: b.metas[i]}
}

// NewView builds a free-standing single record from its textual fields,
// serializing them into a fresh buffer in the canonical four-line layout.
// All three fields must be 7-bit ASCII, sequence and qualities must have
// equal length, the encoded record must stay under 4 GiB, and every quality
// character must decode to a phred score in [0, PhredMax].
func NewView(name, sequence, qualities string) (View, error) {
	if indexNonASCII(gunsafe.StringToBytes(name)) >= 0 {
		return View{}, fmt.Errorf("%w: name should contain only ASCII characters: %q", ErrEncoding, name)
	}
	if indexNonASCII(gunsafe.StringToBytes(sequence)) >= 0 {
		return View{}, fmt.Errorf("%w: sequence should contain only ASCII characters: %q", ErrEncoding, sequence)
	}
	if indexNonASCII(gunsafe.StringToBytes(qualities)) >= 0 {
		return View{}, fmt.Errorf("%w: qualities should contain only ASCII characters: %q", ErrEncoding, qualities)
	}
	if len(sequence) != len(qualities) {
		return View{}, fmt.Errorf("%w: sequence and qualities have different lengths: %d and %d",
			ErrMalformedRecord, len(sequence), len(qualities))
	}
	total := uint64(len(name)) + 2*uint64(len(sequence)) + 6
	if total > math.MaxUint32 {
		return View{}, fmt.Errorf("%w: total record length exceeds 4 GiB for read %q", ErrOverflow, name)
	}
	cumErr, err := accumulateError(gunsafe.StringToBytes(qualities))
	if err != nil {
		return View{}, err
	}
	buf := make([]byte, 0, total)
	buf = append(buf, '@')
	buf = append(buf, name...)
	buf = append(buf, '\n')
	buf = append(buf, sequence...)
	buf = append(buf, '\n', '+', '\n')
	buf = append(buf, qualities...)
	buf = append(buf, '\n')
	return View{
		buf: buf,
		meta: Meta{
			nameLen: uint32(len(name)),
			seqOff:  uint32(2 + len(name)),
			seqLen:  uint32(len(sequence)),
			qualOff: uint32(5 + len(name) + len(sequence)),
			cumErr:  cumErr,
		},
	}, nil
}
