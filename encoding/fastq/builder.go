package fastq

import (
	"fmt"
	"math"
)

// A BatchBuilder assembles records into batches of the same shape the
// parser yields: descriptors into one shared buffer holding the canonical
// four-line layout. It serves input adapters that obtain records from
// somewhere other than FASTQ text. The zero value is ready to use.
type BatchBuilder struct {
	buf   []byte
	metas []Meta
}

// Add validates and appends one record. Validation matches NewView; in
// addition the whole buffer under construction must stay under 4 GiB so
// record offsets keep fitting in 32 bits. A failed Add leaves the builder
// unchanged.
func (b *BatchBuilder) Add(name, sequence, qualities []byte) error {
	if indexNonASCII(name) >= 0 {
		return fmt.Errorf("%w: name should contain only ASCII characters: %q", ErrEncoding, name)
	}
	if indexNonASCII(sequence) >= 0 {
		return fmt.Errorf("%w: sequence should contain only ASCII characters: %q", ErrEncoding, sequence)
	}
	if indexNonASCII(qualities) >= 0 {
		return fmt.Errorf("%w: qualities should contain only ASCII characters: %q", ErrEncoding, qualities)
	}
	if len(sequence) != len(qualities) {
		return fmt.Errorf("%w: sequence and qualities have different lengths: %d and %d",
			ErrMalformedRecord, len(sequence), len(qualities))
	}
	total := uint64(len(b.buf)) + uint64(len(name)) + 2*uint64(len(sequence)) + 6
	if total > math.MaxUint32 {
		return fmt.Errorf("%w: batch exceeds 4 GiB at read %q", ErrOverflow, name)
	}
	cumErr, err := accumulateError(qualities)
	if err != nil {
		return fmt.Errorf("read %q: %w", name, err)
	}
	pos := len(b.buf)
	b.buf = append(b.buf, '@')
	b.buf = append(b.buf, name...)
	b.buf = append(b.buf, '\n')
	b.buf = append(b.buf, sequence...)
	b.buf = append(b.buf, '\n', '+', '\n')
	b.buf = append(b.buf, qualities...)
	b.buf = append(b.buf, '\n')
	b.metas = append(b.metas, Meta{
		nameLen: uint32(len(name)),
		seqOff:  uint32(pos + 2 + len(name)),
		seqLen:  uint32(len(sequence)),
		qualOff: uint32(pos + 5 + len(name) + len(sequence)),
		cumErr:  cumErr,
	})
	return nil
}

// Len returns the number of records added since the last Batch call.
func (b *BatchBuilder) Len() int {
	return len(b.metas)
}

// Batch returns the accumulated records and resets the builder. The
// returned batch owns its buffer.
func (b *BatchBuilder) Batch() *Batch {
	batch := &Batch{buf: b.buf, metas: b.metas}
	b.buf = nil
	b.metas = nil
	return batch
}
