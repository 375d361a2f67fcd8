// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"encoding/binary"
	"io"
	"os"
	"slices"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// recordEntry locates the payload of one record.
type recordEntry struct {
	file   int
	offset int64
	length int64
}

// Reader gives random access to the records of one or more files.
//
// The files are indexed once when the Reader is opened, and the index is never modified
// afterwards. Get reads with positionless reads (ReadAt), so it is safe for concurrent use.
type Reader struct {
	schema *Schema
	paths  []string
	files  []*os.File
	index  []recordEntry
	closed atomic.Bool
}

// OpenReader opens and indexes the given record files, which are read as one sequence of records,
// in the order given.
//
// It scans only the length prefixes of the records: a truncated prefix or a length larger than the
// remaining file yields ErrCorruptRecord.
func OpenReader(schema *Schema, paths ...string) (*Reader, error) {
	if schema == nil {
		return nil, errors.Wrap(ErrSchema, "records.OpenReader requires a schema")
	}
	if len(paths) == 0 {
		return nil, errors.New("records.OpenReader requires at least one file")
	}
	r := &Reader{schema: schema, paths: slices.Clone(paths)}
	for fileIdx, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			_ = r.Close()
			return nil, errors.Wrapf(err, "failed to open records file %q", path)
		}
		r.files = append(r.files, file)
		numBefore := len(r.index)
		if err = r.indexFile(fileIdx, file); err != nil {
			_ = r.Close()
			return nil, errors.WithMessagef(err, "indexing %q", path)
		}
		klog.V(1).Infof("records: indexed %d records in %q", len(r.index)-numBefore, path)
	}
	return r, nil
}

func (r *Reader) indexFile(fileIdx int, file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat")
	}
	size := info.Size()
	var prefix [prefixSize]byte
	for pos := int64(0); pos < size; {
		if size-pos < prefixSize {
			return errors.Wrapf(ErrCorruptRecord, "truncated length prefix at offset %d (file size %d)", pos, size)
		}
		if _, err := file.ReadAt(prefix[:], pos); err != nil {
			return errors.Wrapf(err, "failed to read length prefix at offset %d", pos)
		}
		length := binary.LittleEndian.Uint64(prefix[:])
		pos += prefixSize
		if length > uint64(size-pos) {
			return errors.Wrapf(ErrCorruptRecord, "record #%d at offset %d claims %d bytes, only %d left in file",
				len(r.index), pos-prefixSize, length, size-pos)
		}
		r.index = append(r.index, recordEntry{file: fileIdx, offset: pos, length: int64(length)})
		pos += int64(length)
	}
	return nil
}

// Schema used to decode the records.
func (r *Reader) Schema() *Schema { return r.schema }

// Paths of the files read.
func (r *Reader) Paths() []string { return slices.Clone(r.paths) }

// NumExamples returns the total number of records in all files.
func (r *Reader) NumExamples() int { return len(r.index) }

// RawRecord returns the serialized payload (without the length prefix) of the record at index.
func (r *Reader) RawRecord(index int) ([]byte, error) {
	if r.closed.Load() {
		return nil, errors.New("records.Reader is closed")
	}
	if index < 0 || index >= len(r.index) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "record index %d, number of records is %d", index, len(r.index))
	}
	entry := r.index[index]
	payload := make([]byte, entry.length)
	n, err := r.files[entry.file].ReadAt(payload, entry.offset)
	if n == len(payload) {
		err = nil // ReadAt may return io.EOF along with the last bytes of the file.
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(ErrCorruptRecord, "file %q shrunk after being indexed", r.paths[entry.file])
		}
		return nil, errors.Wrapf(err, "failed reading record %d from %q", index, r.paths[entry.file])
	}
	return payload, nil
}

// Get reads and decodes the record at index, with the values as they were stored.
// See Record for the Go types used.
func (r *Reader) Get(index int) (Record, error) {
	payload, err := r.RawRecord(index)
	if err != nil {
		return nil, err
	}
	record, err := r.schema.decodeRecord(payload)
	if err != nil {
		entry := r.index[index]
		return nil, errors.WithMessagef(err, "record %d (%q, offset %d)", index, r.paths[entry.file], entry.offset)
	}
	return record, nil
}

// Close the files. It is idempotent.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	var firstErr error
	for ii, file := range r.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed closing %q", r.paths[ii])
		}
	}
	return firstErr
}
