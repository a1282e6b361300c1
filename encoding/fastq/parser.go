package fastq

import (
	"bytes"
	"fmt"
	"io"
	"math"
)

// ParserOpts configures a Parser.
type ParserOpts struct {
	// ChunkSize is the number of bytes requested from the source per parse
	// step. While a single record larger than the buffered data is pending,
	// the working buffer grows by this amount per step. Values < 1 select
	// the default.
	ChunkSize int
}

// DefaultParserOpts is the default Parser configuration.
var DefaultParserOpts = ParserOpts{
	ChunkSize: 128 * 1024,
}

// Parser splits a byte stream into batches of complete FASTQ records. Each
// call to Next reads at most one chunk beyond the unconsumed tail of the
// previous step, validates the new bytes, and scans for record boundaries;
// every complete record found is returned in one Batch whose buffer holds
// the records verbatim. The partial record at the end of the buffered data,
// if any, is carried over to the next call.
//
// The source may return short reads; the parser only assumes "give me at
// most n bytes, zero at end of input". A Parser is not safe for concurrent
// use.
type Parser struct {
	r         io.Reader
	chunkSize int
	leftover  []byte
	eof       bool  // source exhausted
	err       error // sticky: once set, Next always returns it
}

// NewParser returns a Parser reading from r.
func NewParser(r io.Reader, opts ParserOpts) *Parser {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultParserOpts.ChunkSize
	}
	return &Parser{r: r, chunkSize: opts.ChunkSize}
}

// Next returns the next non-empty batch of records. It returns io.EOF after
// the final record has been yielded. Any other error (transport failure,
// non-ASCII input, grammar violation, truncated trailing record) is
// permanent: subsequent calls return the same error.
func (p *Parser) Next() (*Batch, error) {
	if p.err != nil {
		return nil, p.err
	}
	b, err := p.next()
	if err != nil {
		p.err = err
		return nil, err
	}
	return b, nil
}

func (p *Parser) next() (*Batch, error) {
	var (
		buf   []byte
		metas []Meta
		pos   int // scan cursor: start of the first unconsumed record
	)
	for len(metas) == 0 {
		// Extend the working buffer. The first pass sizes it to exactly
		// hold the previous leftover plus one chunk; later passes (only
		// reached while zero records have been scanned, i.e. a record
		// larger than the buffer is pending) grow it by one chunk each.
		readOff := len(buf)
		if buf == nil {
			size := p.chunkSize
			if len(p.leftover) > size {
				size = len(p.leftover)
			}
			buf = make([]byte, 0, size)
			buf = append(buf, p.leftover...)
			readOff = len(buf)
			buf = buf[:size]
		} else {
			buf = append(buf, make([]byte, p.chunkSize)...)
		}
		if uint64(len(buf)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: record exceeds 4 GiB", ErrOverflow)
		}

		var n int
		if !p.eof {
			var err error
			n, err = io.ReadFull(p.r, buf[readOff:])
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				p.eof = true
			} else if err != nil {
				return nil, err
			}
		}
		buf = buf[:readOff+n]

		if i := indexNonASCII(buf[readOff:]); i >= 0 {
			return nil, fmt.Errorf("%w: found non-ASCII character in input: %q", ErrEncoding, buf[readOff+i])
		}
		if len(buf) == 0 {
			return nil, io.EOF
		}
		if p.eof && n == 0 && !containsRecord(buf[pos:]) {
			return nil, fmt.Errorf("%w: %d byte incomplete record at end of input",
				ErrTruncatedRecord, len(buf)-pos)
		}

		var err error
		metas, pos, err = appendRecords(metas, buf, pos)
		if err != nil {
			return nil, err
		}
	}
	p.leftover = buf[pos:]
	return &Batch{buf: buf, metas: metas}, nil
}

// appendRecords scans buf from pos for complete records, appending a Meta
// per record. It stops at the first incomplete record and returns the new
// cursor, which is the start of that record (or len(buf)).
func appendRecords(metas []Meta, buf []byte, pos int) ([]Meta, int, error) {
	for {
		if pos+2 >= len(buf) {
			return metas, pos, nil
		}
		if buf[pos] != '@' {
			return nil, 0, fmt.Errorf("%w: record does not start with '@' but with %q",
				ErrMalformedRecord, buf[pos])
		}
		nameEnd := bytes.IndexByte(buf[pos:], '\n')
		if nameEnd < 0 {
			return metas, pos, nil
		}
		nameLen := nameEnd - 1
		seqStart := pos + nameEnd + 1
		seqLen := bytes.IndexByte(buf[seqStart:], '\n')
		if seqLen < 0 {
			return metas, pos, nil
		}
		plusStart := seqStart + seqLen + 1
		if plusStart < len(buf) && buf[plusStart] != '+' {
			return nil, 0, fmt.Errorf("%w: record second header does not start with '+' but with %q",
				ErrMalformedRecord, buf[plusStart])
		}
		plusLen := bytes.IndexByte(buf[plusStart:], '\n')
		if plusLen < 0 {
			return metas, pos, nil
		}
		qualStart := plusStart + plusLen + 1
		qualLen := bytes.IndexByte(buf[qualStart:], '\n')
		if qualLen < 0 {
			return metas, pos, nil
		}
		name := buf[pos+1 : pos+1+nameLen]
		if seqLen != qualLen {
			return nil, 0, fmt.Errorf("%w: record sequence and qualities do not have equal length: %q",
				ErrMalformedRecord, name)
		}
		cumErr, err := accumulateError(buf[qualStart : qualStart+qualLen])
		if err != nil {
			return nil, 0, fmt.Errorf("read %q: %w", name, err)
		}
		metas = append(metas, Meta{
			nameLen: uint32(nameLen),
			seqOff:  uint32(seqStart),
			seqLen:  uint32(seqLen),
			qualOff: uint32(qualStart),
			cumErr:  cumErr,
		})
		pos = qualStart + qualLen + 1
	}
}

// containsRecord reports whether buf holds the four newlines that terminate
// the four lines of a complete record.
func containsRecord(buf []byte) bool {
	for i := 0; i < 4; i++ {
		j := bytes.IndexByte(buf, '\n')
		if j < 0 {
			return false
		}
		buf = buf[j+1:]
	}
	return true
}
