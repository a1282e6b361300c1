package fastq

import "io"

// Writer writes records in the canonical four-line layout. Because a View's
// backing buffer already holds exactly that layout, each record is one
// Write call on the underlying writer.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter constructs a new FASTQ writer that writes records to the
// underlying writer w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes the record v. An error is returned if the write failed;
// after a failure all subsequent writes return the same error.
func (w *Writer) Write(v View) error {
	if w.err != nil {
		return w.err
	}
	_, w.err = w.w.Write(v.Record())
	return w.err
}
