package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/recordml/recordml/ml/data"
	"github.com/recordml/recordml/ml/data/records"
	"github.com/recordml/recordml/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
name: test
files: [%s]
feature_original_types:
  label: [int64, FixedLenFeature]
  tokens: [int64, VarLenFeature]
  score: [float32, FixedLenFeature]
  name: [string, FixedLenFeature]
  image: [bytes, FixedLenFeature]
feature_convert_types:
  label: float32
image_options:
  - image_feature_name: image
    resize_height: 4
    resize_width: 6
`

func testSchema(t *testing.T) *records.Schema {
	return must.M1(records.ParseSchema(map[string][]string{
		"label":  {"int64", "FixedLenFeature"},
		"tokens": {"int64", "VarLenFeature"},
		"score":  {"float32", "FixedLenFeature"},
		"name":   {"string", "FixedLenFeature"},
		"image":  {"bytes", "FixedLenFeature"},
	}))
}

func TestParseRecord(t *testing.T) {
	schema := testSchema(t)
	record, err := parseRecord([]byte(`{"label": 3, "tokens": [1, 2, 3], "score": 0.5, "name": "x", "image": "base64:AAEC"}`),
		schema, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), record["label"])
	assert.Equal(t, []int64{1, 2, 3}, record["tokens"])
	assert.Equal(t, 0.5, record["score"])
	assert.Equal(t, "x", record["name"])
	assert.Equal(t, []byte{0, 1, 2}, record["image"])

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte("blob"), 0o644))
	record, err = parseRecord([]byte(`{"image": "@blob.bin", "name": "plain"}`), schema, dir)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), record["image"])

	for _, line := range []string{
		`{"label": 3.5}`,
		`{"label": "3"}`,
		`{"tokens": 3}`,
		`{"score": [1]}`,
		`{"name": 1}`,
		`{"image": "base64:***"}`,
		`{"image": "@missing.bin"}`,
		`not json`,
	} {
		_, err := parseRecord([]byte(line), schema, dir)
		require.Error(t, err, "line %s", line)
	}

	// Values that don't fit a float32 are rejected when written, not stored as infinity.
	record, err = parseRecord([]byte(`{"label": 1, "tokens": [1], "score": 1e50, "name": "x", "image": "base64:AAEC"}`),
		schema, dir)
	require.NoError(t, err)
	w := must.M1(records.Create(filepath.Join(dir, "overflow.rec"), schema))
	require.ErrorIs(t, w.Write(record), records.ErrTypeCoercion)
	require.NoError(t, w.Close())
	assert.Equal(t, 0, w.NumWritten())
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 8))
	for y := range 8 {
		for x := range 12 {
			img.Set(x, y, color.NRGBA{R: uint8(20 * x), G: uint8(30 * y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), buf.Bytes(), 0o644))

	inputPath := filepath.Join(dir, "input.jsonl")
	require.NoError(t, os.WriteFile(inputPath, []byte(
		`{"label": 1, "tokens": [1, 2], "score": 0.25, "name": "first", "image": "@image.png"}
{"label": 2, "tokens": [], "score": 0.5, "name": "second", "image": "@image.png"}

{"label": 3, "tokens": [7], "score": 1, "name": "third", "image": "@image.png"}
`), 0o644))
	recordsPath := filepath.Join(dir, "train.rec")
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(testConfig, recordsPath)), 0o644))

	*flagConfig = configPath
	*flagOutput = recordsPath
	*flagProgress = false
	require.NoError(t, runPack([]string{inputPath}))

	ds, config, err := openDataset(nil)
	require.NoError(t, err)
	assert.Len(t, config.ImageOptions, 1)
	require.Equal(t, 3, ds.NumExamples())
	record := must.M1(ds.Get(2))
	assert.Equal(t, float32(3), record["label"])
	assert.Equal(t, []int64{7}, record["tokens"])
	assert.Equal(t, "third", record["name"])
	assert.Equal(t, []int{4, 6, 3}, record["image"].(*tensors.Tensor).Shape().Dimensions)
	count, err := validateDataset(ds, false)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, ds.Close())
	require.NoError(t, runInspect(nil))

	mergedPath := filepath.Join(dir, "merged.rec")
	*flagOutput = mergedPath
	require.NoError(t, runMerge([]string{recordsPath, recordsPath}))
	ds, _, err = openDataset([]string{mergedPath})
	require.NoError(t, err)
	assert.Equal(t, 6, ds.NumExamples())
	require.NoError(t, runValidate([]string{mergedPath}))
	require.NoError(t, ds.Close())

	hash := must.M1(data.FileChecksum(recordsPath))
	*flagChecksum = hash
	require.NoError(t, runChecksum([]string{recordsPath}))
	*flagChecksum = "00"
	require.Error(t, runChecksum([]string{recordsPath}))
	*flagChecksum = ""

	// Missing features are reported by the writer.
	badPath := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(badPath, []byte(`{"label": 1}`+"\n"), 0o644))
	*flagOutput = filepath.Join(dir, "bad.rec")
	err = runPack([]string{badPath})
	require.ErrorIs(t, err, records.ErrSchemaMismatch)
	require.ErrorContains(t, err, "bad.jsonl:1")
}
