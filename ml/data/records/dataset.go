// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package records implements a binary record file format for datasets of examples with typed
// features, and a Dataset that reads them back with type conversions and image decoding.
//
// Each record is a little-endian uint64 payload length followed by the payload: the features
// serialized in sorted name order. Int64 and Float32 elements take 8 and 4 bytes (little-endian),
// Bytes and String elements are a uint32 byte length followed by the bytes, and variable-length
// features are preceded by a uint32 element count.
//
// Writing:
//
//	schema, err := records.NewSchema(map[string]records.FeatureSpec{
//		"label":     records.Fixed(records.Int64),
//		"image_raw": records.Fixed(records.Bytes),
//	})
//	err = records.WithWriter("train.rec", schema, func(w *records.Writer) error {
//		return w.Write(records.Record{"label": 3, "image_raw": jpegBytes})
//	})
//
// Reading:
//
//	ds, err := records.NewDataset(records.Config{
//		Files:        []string{"train.rec"},
//		Schema:       schema,
//		ImageOptions: []records.ImageOption{{FeatureName: "image_raw", ResizeHeight: 64, ResizeWidth: 64}},
//	})
//	example, err := ds.Get(0)  // example["image_raw"] is a *tensors.Tensor shaped [64, 64, 3].
package records

import (
	"io"
	"iter"
	"maps"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/recordml/recordml/ml/data"
	"k8s.io/klog/v2"
)

// Config of a Dataset.
type Config struct {
	// Name of the dataset. Defaults to the base name of the first file.
	Name string

	// Files to read, in order. Glob patterns and "~" are expanded.
	Files []string

	// Schema of the stored records.
	Schema *Schema

	// Conversions maps feature names to the type they are converted to when read.
	Conversions map[string]LogicalType

	// ImageOptions for Bytes features holding encoded images.
	ImageOptions []ImageOption
}

// Dataset reads examples from record files, applying the configured conversions and image decoding.
//
// It holds no mutable state after construction (other than the open files), and Get is safe for
// concurrent use, so it can be used as a data.Source by a data.Loader.
type Dataset struct {
	name        string
	reader      *Reader
	schema      *Schema
	conversions map[string]LogicalType
	images      map[string]ImageOption
}

var _ data.Source[Record] = (*Dataset)(nil)

// validate the configuration and return the image options indexed by feature name.
func (c *Config) validate() (map[string]ImageOption, error) {
	if c.Schema == nil {
		return nil, errors.Wrap(ErrConfig, "no schema given")
	}
	if len(c.Files) == 0 {
		return nil, errors.Wrap(ErrConfig, "no files given")
	}
	for name, to := range c.Conversions {
		if _, found := c.Schema.Spec(name); !found {
			return nil, errors.Wrapf(ErrConfig, "conversion for unknown feature %q", name)
		}
		if _, found := logicalTypeNames[to]; !found || to == InvalidType {
			return nil, errors.Wrapf(ErrConfig, "invalid conversion of feature %q to %s", name, to)
		}
	}
	imageOpts := make(map[string]ImageOption, len(c.ImageOptions))
	for ii, opt := range c.ImageOptions {
		if opt.FeatureName == "" {
			klog.Warningf("records: image option #%d has no feature name, ignoring it", ii)
			continue
		}
		spec, found := c.Schema.Spec(opt.FeatureName)
		if !found {
			return nil, errors.Wrapf(ErrConfig, "image option for unknown feature %q", opt.FeatureName)
		}
		if spec.Type != Bytes || !spec.IsScalar() {
			return nil, errors.Wrapf(ErrConfig, "image option for feature %q requires a fixed-length scalar bytes feature, got %s",
				opt.FeatureName, spec)
		}
		if _, found := c.Conversions[opt.FeatureName]; found {
			return nil, errors.Wrapf(ErrConfig, "image feature %q can't also be converted", opt.FeatureName)
		}
		if _, found := imageOpts[opt.FeatureName]; found {
			return nil, errors.Wrapf(ErrConfig, "more than one image option for feature %q", opt.FeatureName)
		}
		if opt.ResizeHeight < 0 || opt.ResizeWidth < 0 {
			return nil, errors.Wrapf(ErrConfig, "image option for feature %q has negative resize dimensions (%d, %d)",
				opt.FeatureName, opt.ResizeHeight, opt.ResizeWidth)
		}
		if !opt.Resizes() && (opt.ResizeHeight > 0 || opt.ResizeWidth > 0) {
			klog.Warningf("records: image option for feature %q sets only one resize dimension, images keep their native size",
				opt.FeatureName)
		}
		if !validImageDType(opt.DType) {
			return nil, errors.Wrapf(ErrConfig, "image option for feature %q has unsupported dtype %s", opt.FeatureName, opt.DType)
		}
		imageOpts[opt.FeatureName] = opt
	}
	return imageOpts, nil
}

// NewDataset validates the config and opens the files.
//
// Inconsistent configurations return ErrConfig: conversions or image options for features not in the
// schema, image options for features that are not fixed-length scalar Bytes, or converted, or repeated.
func NewDataset(config Config) (*Dataset, error) {
	imageOpts, err := config.validate()
	if err != nil {
		return nil, err
	}
	files, err := data.ExpandFiles(config.Files...)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "%v", err)
	}
	reader, err := OpenReader(config.Schema, files...)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{
		name:        config.Name,
		reader:      reader,
		schema:      config.Schema,
		conversions: maps.Clone(config.Conversions),
		images:      imageOpts,
	}
	if ds.name == "" {
		ds.name = strings.TrimSuffix(filepath.Base(files[0]), filepath.Ext(files[0]))
	}
	klog.V(1).Infof("records: dataset %q with %d examples from %d files", ds.name, ds.NumExamples(), len(files))
	return ds, nil
}

// Name of the dataset.
func (ds *Dataset) Name() string { return ds.name }

// Schema of the stored records.
func (ds *Dataset) Schema() *Schema { return ds.schema }

// Files read by the dataset, after expansion of glob patterns.
func (ds *Dataset) Files() []string { return ds.reader.Paths() }

// ListItems returns the names of the features of each example, sorted.
// Conversions and image decoding change the values but never add or remove features.
func (ds *Dataset) ListItems() []string { return ds.schema.Names() }

// NumExamples implements data.Source.
func (ds *Dataset) NumExamples() int { return ds.reader.NumExamples() }

// Get implements data.Source: it returns the example at index, after conversions and image decoding.
func (ds *Dataset) Get(index int) (Record, error) {
	record, err := ds.reader.Get(index)
	if err != nil {
		return nil, err
	}
	for name, to := range ds.conversions {
		spec, _ := ds.schema.Spec(name)
		if spec.Type == to {
			continue
		}
		record[name], err = convertValue(record[name], to)
		if err != nil {
			return nil, errors.WithMessagef(err, "record %d, converting feature %q from %s", index, name, spec.Type)
		}
	}
	for name, opt := range ds.images {
		raw, _ := record[name].([]byte)
		record[name], err = opt.decode(raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "record %d", index)
		}
	}
	return record, nil
}

// Examples iterates over all examples in order. Iteration stops after the first error.
func (ds *Dataset) Examples() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for index := range ds.NumExamples() {
			record, err := ds.Get(index)
			if !yield(record, err) || err != nil {
				return
			}
		}
	}
}

// Close the underlying files.
func (ds *Dataset) Close() error { return ds.reader.Close() }

// Cursor reads the examples of a Dataset sequentially. Each Cursor has its own position,
// so many can iterate over the same Dataset.
type Cursor struct {
	ds   *Dataset
	next int
}

// NewCursor returns a Cursor positioned at the first example.
func (ds *Dataset) NewCursor() *Cursor { return &Cursor{ds: ds} }

// Yield returns the next example, or io.EOF after the last one (until Reset is called).
func (c *Cursor) Yield() (Record, error) {
	if c.next >= c.ds.NumExamples() {
		return nil, io.EOF
	}
	index := c.next
	c.next++
	return c.ds.Get(index)
}

// Reset moves the Cursor back to the first example.
func (c *Cursor) Reset() { c.next = 0 }
