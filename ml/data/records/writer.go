// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// prefixSize is the size of the little-endian uint64 payload length preceding each record.
const prefixSize = 8

// Writer serializes records to a file, in the order they are written.
//
// It is not safe for concurrent use, and two Writers must not write to the same path.
// Always call Close, even after errors: it flushes the buffered records, or truncates
// the file back to the last complete record if writing failed.
type Writer struct {
	path   string
	schema *Schema
	file   *os.File
	w      *bufio.Writer
	buf    []byte

	// offset is the end of the last record handed to the buffered writer, committed is the end of
	// the last record known to be fully written to the file. pending holds the end offsets of the
	// records in between.
	offset, committed int64
	pending           []int64

	numWritten int
	err        error
	closed     bool
}

// Create creates (or truncates) the file at path, and returns a Writer of records following schema.
func Create(path string, schema *Schema) (*Writer, error) {
	if schema == nil {
		return nil, errors.Wrap(ErrSchema, "records.Create requires a schema")
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create records file %q", path)
	}
	klog.V(1).Infof("records: writing %q with schema %s", path, schema)
	return &Writer{
		path:   path,
		schema: schema,
		file:   file,
		w:      bufio.NewWriter(file),
	}, nil
}

// WithWriter creates a Writer for path, calls fn with it, and closes it on every exit path.
// It returns the error of fn, or else the error of closing the Writer.
func WithWriter(path string, schema *Schema, fn func(w *Writer) error) (err error) {
	w, err := Create(path, schema)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := w.Close()
		if err == nil {
			err = closeErr
		}
	}()
	return fn(w)
}

// Path of the file being written.
func (w *Writer) Path() string { return w.path }

// NumWritten returns the number of records successfully written so far.
func (w *Writer) NumWritten() int { return w.numWritten }

// Schema used to encode the records.
func (w *Writer) Schema() *Schema { return w.schema }

// Write serializes record and appends it to the file.
//
// The record must have exactly the schema's features (ErrSchemaMismatch otherwise), and each value
// must be coercible to its feature type (ErrTypeCoercion otherwise). On such errors nothing is written
// and the Writer remains usable. I/O errors are permanent: all subsequent writes fail.
func (w *Writer) Write(record Record) error {
	if w.closed {
		return errors.Errorf("records.Writer for %q is already closed", w.path)
	}
	if w.err != nil {
		return errors.WithMessagef(w.err, "records.Writer for %q failed previously", w.path)
	}
	var err error
	w.buf = append(w.buf[:0], make([]byte, prefixSize)...)
	w.buf, err = w.schema.encodeRecord(w.buf, record)
	if err != nil {
		return errors.WithMessagef(err, "records.Writer for %q, record #%d", w.path, w.numWritten)
	}
	binary.LittleEndian.PutUint64(w.buf[:prefixSize], uint64(len(w.buf)-prefixSize))
	if _, err = w.w.Write(w.buf); err != nil {
		w.err = errors.Wrapf(err, "failed writing to %q", w.path)
		return w.err
	}
	w.offset += int64(len(w.buf))
	w.pending = append(w.pending, w.offset)
	w.numWritten++

	// Records whose bytes are no longer in the buffer are in the file.
	onFile := w.offset - int64(w.w.Buffered())
	drop := 0
	for drop < len(w.pending) && w.pending[drop] <= onFile {
		w.committed = w.pending[drop]
		drop++
	}
	w.pending = w.pending[drop:]
	return nil
}

// Close flushes and closes the file. It is idempotent: subsequent calls return nil.
//
// If a write or the flush failed, the file is truncated to the last complete record, and the error is returned.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.err == nil {
		if err := w.w.Flush(); err != nil {
			w.err = errors.Wrapf(err, "failed flushing %q", w.path)
		} else {
			w.committed = w.offset
			w.pending = nil
		}
	}
	if w.err != nil {
		_ = w.file.Close()
		klog.Warningf("records: truncating %q to %d bytes after error: %v", w.path, w.committed, w.err)
		if err := os.Truncate(w.path, w.committed); err != nil {
			klog.Errorf("records: failed to truncate %q: %+v", w.path, err)
		}
		return w.err
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrapf(err, "failed closing %q", w.path)
	}
	klog.V(1).Infof("records: wrote %d records (%d bytes) to %q", w.numWritten, w.offset, w.path)
	return nil
}
