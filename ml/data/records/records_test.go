// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allKindsSchema(t *testing.T) *Schema {
	schema, err := NewSchema(map[string]FeatureSpec{
		"id":       Fixed(Int64),
		"matrix":   Fixed(Int64, 2, 3),
		"scores":   Variable(Float32),
		"weight":   Fixed(Float32),
		"raw":      Fixed(Bytes),
		"chunks":   Variable(Bytes),
		"title":    Fixed(String),
		"tags":     Variable(String),
		"pair":     Fixed(String, 2),
		"sequence": Variable(Int64),
	})
	require.NoError(t, err)
	return schema
}

func TestRoundTrip(t *testing.T) {
	schema := allKindsSchema(t)
	path := filepath.Join(t.TempDir(), "all.rec")
	inputs := []Record{
		{
			"id":       7,
			"matrix":   [][]int32{{1, 2, 3}, {4, 5, 6}},
			"scores":   []float64{0.5, -1.25},
			"weight":   2,
			"raw":      []byte{0, 1, 255},
			"chunks":   [][]byte{{1}, {}, {2, 3}},
			"title":    "héllo",
			"tags":     []string{"a", "", "c"},
			"pair":     [][]byte{[]byte("x"), []byte("y")},
			"sequence": []uint16{},
		},
		{
			"id":       int64(-1),
			"matrix":   [6]int{-1, -2, -3, -4, -5, -6},
			"scores":   []float32{},
			"weight":   float32(0.125),
			"raw":      []byte{},
			"chunks":   [][]byte{},
			"title":    []byte(""),
			"tags":     []string{},
			"pair":     []string{"", "z"},
			"sequence": []int64{1 << 40, -3},
		},
	}
	require.NoError(t, WithWriter(path, schema, func(w *Writer) error {
		for _, record := range inputs {
			if err := w.Write(record); err != nil {
				return err
			}
		}
		assert.Equal(t, 2, w.NumWritten())
		return nil
	}))

	reader, err := OpenReader(schema, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, reader.Close()) }()
	require.Equal(t, 2, reader.NumExamples())

	want := []Record{
		{
			"id":       int64(7),
			"matrix":   []int64{1, 2, 3, 4, 5, 6},
			"scores":   []float32{0.5, -1.25},
			"weight":   float32(2),
			"raw":      []byte{0, 1, 255},
			"chunks":   [][]byte{{1}, {}, {2, 3}},
			"title":    "héllo",
			"tags":     []string{"a", "", "c"},
			"pair":     []string{"x", "y"},
			"sequence": []int64{},
		},
		{
			"id":       int64(-1),
			"matrix":   []int64{-1, -2, -3, -4, -5, -6},
			"scores":   []float32{},
			"weight":   float32(0.125),
			"raw":      []byte{},
			"chunks":   [][]byte{},
			"title":    "",
			"tags":     []string{},
			"pair":     []string{"", "z"},
			"sequence": []int64{1 << 40, -3},
		},
	}
	for ii := range want {
		got, err := reader.Get(ii)
		require.NoError(t, err)
		assert.Equal(t, want[ii], got, "record #%d", ii)
	}
	// Reading again yields the same.
	got, err := reader.Get(0)
	require.NoError(t, err)
	assert.Equal(t, want[0], got)
}

func TestWireFormat(t *testing.T) {
	schema := must.M1(NewSchema(map[string]FeatureSpec{
		"b": Variable(String),
		"a": Fixed(Int64),
		"c": Fixed(Float32),
	}))
	path := filepath.Join(t.TempDir(), "wire.rec")
	require.NoError(t, WithWriter(path, schema, func(w *Writer) error {
		return w.Write(Record{"a": 1, "b": []string{"hi"}, "c": 1.0})
	}))
	contents := must.M1(os.ReadFile(path))
	want := []byte{
		22, 0, 0, 0, 0, 0, 0, 0, // payload length
		1, 0, 0, 0, 0, 0, 0, 0, // a
		1, 0, 0, 0, 2, 0, 0, 0, 'h', 'i', // b: count, length, bytes
		0, 0, 0x80, 0x3f, // c: float32(1.0)
	}
	assert.Equal(t, want, contents)
}

func TestEmptyFile(t *testing.T) {
	schema := allKindsSchema(t)
	path := filepath.Join(t.TempDir(), "empty.rec")
	w, err := Create(path, schema)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "Close must be idempotent")
	require.Error(t, w.Write(Record{}))

	info := must.M1(os.Stat(path))
	assert.Equal(t, int64(0), info.Size())
	reader, err := OpenReader(schema, path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	assert.Equal(t, 0, reader.NumExamples())
	_, err = reader.Get(0)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestWriteErrors(t *testing.T) {
	schema := must.M1(NewSchema(map[string]FeatureSpec{
		"label": Fixed(Int64),
		"raw":   Fixed(Bytes),
		"name":  Fixed(String),
		"pos":   Fixed(Float32, 2),
	}))
	valid := func() Record {
		return Record{"label": 1, "raw": []byte("r"), "name": "n", "pos": []float32{1, 2}}
	}
	path := filepath.Join(t.TempDir(), "errors.rec")
	w := must.M1(Create(path, schema))
	require.NoError(t, w.Write(valid()))

	missing := valid()
	delete(missing, "raw")
	err := w.Write(missing)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "raw")

	extra := valid()
	extra["other"] = 3
	err = w.Write(extra)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "other")

	for name, change := range map[string]func(r Record){
		"string as bytes":   func(r Record) { r["raw"] = "r" },
		"float as int":      func(r Record) { r["label"] = 1.5 },
		"string as int":     func(r Record) { r["label"] = "1" },
		"uint64 overflow":   func(r Record) { r["label"] = uint64(1 << 63) },
		"invalid utf8":      func(r Record) { r["name"] = []byte{0xff, 0xfe} },
		"wrong tuple count": func(r Record) { r["pos"] = []float32{1, 2, 3} },
		"nil value":         func(r Record) { r["label"] = nil },
		"float overflow":    func(r Record) { r["pos"] = []float64{1e300, 0} },
	} {
		record := valid()
		change(record)
		err := w.Write(record)
		require.ErrorIs(t, err, ErrTypeCoercion, "case %q", name)
	}

	// Failed writes didn't write anything, and the Writer remained usable.
	require.NoError(t, w.Write(valid()))
	assert.Equal(t, 2, w.NumWritten())
	require.NoError(t, w.Close())
	reader := must.M1(OpenReader(schema, path))
	defer func() { _ = reader.Close() }()
	require.Equal(t, 2, reader.NumExamples())
	for ii := range 2 {
		record, err := reader.Get(ii)
		require.NoError(t, err)
		assert.Equal(t, int64(1), record["label"])
		assert.Equal(t, "n", record["name"])
	}
}

func TestWriterFailureTruncates(t *testing.T) {
	schema := must.M1(NewSchema(map[string]FeatureSpec{"values": Variable(Int64)}))
	path := filepath.Join(t.TempDir(), "failure.rec")
	w := must.M1(Create(path, schema))
	// Small buffer, so each record goes straight to the file.
	w.w = bufio.NewWriterSize(w.file, 16)
	record := Record{"values": []int64{1, 2, 3, 4}}
	require.NoError(t, w.Write(record))
	require.NoError(t, w.Write(record))

	// Make writing fail, and leave some partial bytes behind.
	readOnly := must.M1(os.Open(path))
	defer func() { _ = readOnly.Close() }()
	w.w = bufio.NewWriterSize(readOnly, 16)
	require.Error(t, w.Write(record))
	require.Error(t, w.Write(record), "Writer errors should be permanent")
	f := must.M1(os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0))
	must.M1(f.Write([]byte{1, 2, 3}))
	require.NoError(t, f.Close())

	require.Error(t, w.Close())
	assert.Equal(t, 2, w.NumWritten())
	reader := must.M1(OpenReader(schema, path))
	defer func() { _ = reader.Close() }()
	require.Equal(t, 2, reader.NumExamples())
	got, err := reader.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, got["values"])
}

func TestWithWriterError(t *testing.T) {
	schema := must.M1(NewSchema(map[string]FeatureSpec{"x": Fixed(Int64)}))
	path := filepath.Join(t.TempDir(), "partial.rec")
	fnErr := errors.New("stop")
	err := WithWriter(path, schema, func(w *Writer) error {
		if err := w.Write(Record{"x": 1}); err != nil {
			return err
		}
		return fnErr
	})
	require.ErrorIs(t, err, fnErr)
	// The record written before the error was flushed.
	reader := must.M1(OpenReader(schema, path))
	defer func() { _ = reader.Close() }()
	assert.Equal(t, 1, reader.NumExamples())
}

func writeRaw(t *testing.T, path string, contents ...[]byte) {
	var all []byte
	for _, c := range contents {
		all = append(all, c...)
	}
	require.NoError(t, os.WriteFile(path, all, 0o644))
}

func prefix(n uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, n)
}

func TestCorruption(t *testing.T) {
	dir := t.TempDir()
	schema := must.M1(NewSchema(map[string]FeatureSpec{"v": Variable(Int64)}))
	validPayload := append(binary.LittleEndian.AppendUint32(nil, 1), prefix(42)...)

	// Truncated length prefix.
	path := filepath.Join(dir, "truncated_prefix.rec")
	writeRaw(t, path, prefix(uint64(len(validPayload))), validPayload, []byte{1, 2, 3})
	_, err := OpenReader(schema, path)
	require.ErrorIs(t, err, ErrCorruptRecord)

	// Length beyond the end of the file.
	path = filepath.Join(dir, "long_prefix.rec")
	writeRaw(t, path, prefix(uint64(len(validPayload))+1), validPayload)
	_, err = OpenReader(schema, path)
	require.ErrorIs(t, err, ErrCorruptRecord)

	// Huge length.
	path = filepath.Join(dir, "huge_prefix.rec")
	writeRaw(t, path, prefix(1<<63), validPayload)
	_, err = OpenReader(schema, path)
	require.ErrorIs(t, err, ErrCorruptRecord)

	// Element count larger than the payload, and trailing bytes: indexing works, but Get fails.
	overflow := binary.LittleEndian.AppendUint32(nil, 1000)
	trailing := append(validPayload[:len(validPayload):len(validPayload)], 7)
	path = filepath.Join(dir, "bad_payloads.rec")
	writeRaw(t, path,
		prefix(uint64(len(validPayload))), validPayload,
		prefix(uint64(len(overflow))), overflow,
		prefix(uint64(len(trailing))), trailing,
		prefix(0))
	reader, err := OpenReader(schema, path)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	require.Equal(t, 4, reader.NumExamples())
	record, err := reader.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, record["v"])
	for ii := 1; ii < 4; ii++ {
		_, err = reader.Get(ii)
		require.ErrorIs(t, err, ErrCorruptRecord, "record #%d", ii)
	}
	// Errors don't affect the index.
	assert.Equal(t, 4, reader.NumExamples())
	_, err = reader.Get(0)
	require.NoError(t, err)
	_, err = reader.Get(-1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = reader.Get(4)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	// Invalid UTF-8 in a string feature.
	strSchema := must.M1(NewSchema(map[string]FeatureSpec{"s": Fixed(String)}))
	badString := append(binary.LittleEndian.AppendUint32(nil, 2), 0xff, 0xfe)
	path = filepath.Join(dir, "bad_string.rec")
	writeRaw(t, path, prefix(uint64(len(badString))), badString)
	reader2 := must.M1(OpenReader(strSchema, path))
	defer func() { _ = reader2.Close() }()
	_, err = reader2.Get(0)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	schema := must.M1(NewSchema(map[string]FeatureSpec{"x": Fixed(Int64)}))
	var paths []string
	next := 0
	for fileIdx, count := range []int{3, 0, 2} {
		path := filepath.Join(dir, "part"+string(rune('0'+fileIdx))+".rec")
		paths = append(paths, path)
		require.NoError(t, WithWriter(path, schema, func(w *Writer) error {
			for range count {
				if err := w.Write(Record{"x": next}); err != nil {
					return err
				}
				next++
			}
			return nil
		}))
	}
	reader := must.M1(OpenReader(schema, paths...))
	defer func() { _ = reader.Close() }()
	assert.Equal(t, paths, reader.Paths())
	require.Equal(t, 5, reader.NumExamples())
	for ii := range 5 {
		record, err := reader.Get(ii)
		require.NoError(t, err)
		assert.Equal(t, int64(ii), record["x"])
	}
	raw, err := reader.RawRecord(4)
	require.NoError(t, err)
	assert.Equal(t, prefix(4), raw)

	_, err = OpenReader(schema, filepath.Join(dir, "missing.rec"))
	require.Error(t, err)
}
