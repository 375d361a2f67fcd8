package main

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/ml/data/records"
	"k8s.io/klog/v2"
)

// Prefixes of string values of Bytes features.
const (
	filePrefix   = "@"
	base64Prefix = "base64:"
)

// parseRecord converts one JSON object to a records.Record, following the schema.
//
// Int64 and Float32 features take JSON numbers (or lists of numbers). String features take JSON strings.
// Bytes features take strings: "@<path>" reads the contents of the file (relative paths are relative to baseDir),
// "base64:<data>" decodes the data, and any other string is stored as is.
func parseRecord(line []byte, schema *records.Schema, baseDir string) (records.Record, error) {
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()
	var values map[string]any
	if err := decoder.Decode(&values); err != nil {
		return nil, errors.Wrap(err, "invalid JSON")
	}
	record := make(records.Record, len(values))
	for name, value := range values {
		spec, found := schema.Spec(name)
		if !found {
			// Unknown features are reported by the writer.
			record[name] = value
			continue
		}
		var err error
		if spec.IsScalar() {
			record[name], err = parseValue(value, spec.Type, baseDir)
		} else {
			record[name], err = parseList(value, spec.Type, baseDir)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "feature %q", name)
		}
	}
	return record, nil
}

func parseList(value any, t records.LogicalType, baseDir string) (any, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, errors.Errorf("expected a list, got %T", value)
	}
	var (
		ints    []int64
		floats  []float64
		blobs   [][]byte
		strs    []string
		element any
		err     error
	)
	for _, v := range list {
		if element, err = parseValue(v, t, baseDir); err != nil {
			return nil, err
		}
		switch e := element.(type) {
		case int64:
			ints = append(ints, e)
		case float64:
			floats = append(floats, e)
		case []byte:
			blobs = append(blobs, e)
		case string:
			strs = append(strs, e)
		}
	}
	switch t {
	case records.Int64:
		return ints, nil
	case records.Float32:
		return floats, nil
	case records.Bytes:
		return blobs, nil
	default:
		return strs, nil
	}
}

func parseValue(value any, t records.LogicalType, baseDir string) (any, error) {
	switch t {
	case records.Int64:
		number, ok := value.(json.Number)
		if !ok {
			return nil, errors.Errorf("expected an integer, got %T", value)
		}
		v, err := number.Int64()
		return v, errors.Wrapf(err, "expected an integer, got %s", number)
	case records.Float32:
		number, ok := value.(json.Number)
		if !ok {
			return nil, errors.Errorf("expected a number, got %T", value)
		}
		// Narrowing to float32 is left to the writer, which reports overflows.
		v, err := number.Float64()
		return v, errors.Wrapf(err, "expected a number, got %s", number)
	}
	s, ok := value.(string)
	if !ok {
		return nil, errors.Errorf("expected a string, got %T", value)
	}
	if t == records.String {
		return s, nil
	}
	switch {
	case strings.HasPrefix(s, filePrefix):
		path := strings.TrimPrefix(s, filePrefix)
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		contents, err := os.ReadFile(path)
		return contents, errors.Wrapf(err, "failed to read %q", path)
	case strings.HasPrefix(s, base64Prefix):
		contents, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, base64Prefix))
		return contents, errors.Wrap(err, "invalid base64 data")
	}
	return []byte(s), nil
}

// packFile writes the JSON-lines examples of inputPath to w, one per non-empty line.
func packFile(w *records.Writer, inputPath string) (int, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %q", inputPath)
	}
	defer func() { _ = f.Close() }()
	baseDir := filepath.Dir(inputPath)
	reader := bufio.NewReader(f)
	var count, lineNum int
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return count, errors.Wrapf(err, "failed to read %q", inputPath)
		}
		lineNum++
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			record, parseErr := parseRecord([]byte(trimmed), w.Schema(), baseDir)
			if parseErr == nil {
				parseErr = w.Write(record)
			}
			if parseErr != nil {
				return count, errors.WithMessagef(parseErr, "%s:%d", inputPath, lineNum)
			}
			count++
		}
		if err == io.EOF {
			return count, nil
		}
	}
}

func runPack(inputPaths []string) error {
	if len(inputPaths) == 0 || *flagOutput == "" {
		return errors.New("'pack' requires -output and at least one input file")
	}
	hp, err := loadHParams()
	if err != nil {
		return err
	}
	schema, err := records.ParseSchema(hp.FeatureOriginalTypes)
	if err != nil {
		return err
	}
	err = records.WithWriter(*flagOutput, schema, func(w *records.Writer) error {
		for _, inputPath := range inputPaths {
			count, err := packFile(w, inputPath)
			if err != nil {
				return err
			}
			klog.V(1).Infof("%d examples packed from %q", count, inputPath)
		}
		return nil
	})
	if err != nil {
		return err
	}
	info, err := os.Stat(*flagOutput)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %q", *flagOutput)
	}
	reader, err := records.OpenReader(schema, *flagOutput)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	klog.Infof("%s examples (%s) written to %q", humanize.Comma(int64(reader.NumExamples())),
		humanize.Bytes(uint64(info.Size())), *flagOutput)
	return nil
}
