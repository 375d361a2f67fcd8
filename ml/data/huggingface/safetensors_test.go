package huggingface

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/recordml/recordml/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafetensorsRoundTrip(t *testing.T) {
	named := []*NamedTensor{
		{Name: "weight", Tensor: tensors.FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})},
		{Name: "half", Tensor: tensors.FromValue([]float32{0.5, -2, 1024}), StoredDType: "F16"},
		{Name: "brain", Tensor: tensors.FromValue([]float32{1.5, -0.25}), StoredDType: "BF16"},
		{Name: "double", Tensor: tensors.FromValue([]float64{3.25})},
		{Name: "ids", Tensor: tensors.FromValue([]int64{7, -7})},
		{Name: "scalar", Tensor: tensors.FromScalar(int32(11))},
		{Name: "empty", Tensor: tensors.FromFlatDataAndDimensions([]uint8{}, 0, 3)},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSafetensors(&buf, named, map[string]string{"format": "pt"}))
	// Header is 8 bytes aligned.
	headerLen := binary.LittleEndian.Uint64(buf.Bytes()[:8])
	assert.Zero(t, headerLen%8)

	var got []*NamedTensor
	for nt, err := range ScanSafetensors(bytes.NewReader(buf.Bytes())) {
		require.NoError(t, err)
		got = append(got, nt)
	}
	require.Len(t, got, len(named))
	for ii, nt := range got {
		assert.Equal(t, named[ii].Name, nt.Name)
		assert.True(t, named[ii].Tensor.Equal(nt.Tensor), "tensor %q: want %s, got %s", nt.Name, named[ii].Tensor, nt.Tensor)
	}
	assert.Equal(t, "F16", got[1].StoredDType)
	assert.Equal(t, dtypes.Float32, got[2].Tensor.DType())
	assert.Equal(t, "BF16", got[2].StoredDType)
	assert.Equal(t, "I32", got[5].StoredDType)
}

func TestSafetensorsErrors(t *testing.T) {
	header := func(h string) []byte {
		buf := binary.LittleEndian.AppendUint64(nil, uint64(len(h)))
		return append(buf, h...)
	}
	for name, contents := range map[string][]byte{
		"short":           {1, 2, 3},
		"huge header":     binary.LittleEndian.AppendUint64(nil, 1<<40),
		"bad json":        header(`{"a":`),
		"bad dtype":       header(`{"a":{"dtype":"C64","shape":[1],"data_offsets":[0,8]}}`),
		"size mismatch":   header(`{"a":{"dtype":"F32","shape":[3],"data_offsets":[0,8]}}`),
		"not contiguous":  header(`{"a":{"dtype":"F32","shape":[1],"data_offsets":[4,8]}}`),
		"missing offsets": header(`{"a":{"dtype":"F32","shape":[1]}}`),
		"truncated data":  append(header(`{"a":{"dtype":"F32","shape":[2],"data_offsets":[0,8]}}`), 0, 0, 0, 0),
	} {
		var err error
		for _, e := range ScanSafetensors(bytes.NewReader(contents)) {
			if e != nil {
				err = e
				break
			}
		}
		require.Error(t, err, "case %q", name)
	}

	var buf bytes.Buffer
	err := WriteSafetensors(&buf, []*NamedTensor{
		{Name: "a", Tensor: tensors.FromValue([]float32{1})},
		{Name: "a", Tensor: tensors.FromValue([]float32{2})},
	}, nil)
	require.Error(t, err)
}

func TestModel(t *testing.T) {
	baseDir := t.TempDir()
	_, err := New("owner/model", baseDir)
	require.Error(t, err, "model directory doesn't exist yet")

	modelDir := filepath.Join(baseDir, "owner_model")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	for ii, name := range []string{"model-00002-of-00002.safetensors", "model-00001-of-00002.safetensors"} {
		f := must.M1(os.Create(filepath.Join(modelDir, name)))
		require.NoError(t, WriteSafetensors(f, []*NamedTensor{
			{Name: "shard" + string(rune('2'-ii)), Tensor: tensors.FromValue([]float32{float32(ii)})},
		}, nil))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, ConfigFile), []byte(`{"hidden_size": 96}`), 0o644))

	hfm, err := New("owner/model", baseDir)
	require.NoError(t, err)
	config, err := hfm.Config()
	require.NoError(t, err)
	assert.Equal(t, 96.0, config["hidden_size"])

	var names []string
	for nt, err := range hfm.EnumerateTensors() {
		require.NoError(t, err)
		names = append(names, nt.Name)
	}
	assert.Equal(t, []string{"shard1", "shard2"}, names)

	metadata, err := ReadSafetensorsMetadata(filepath.Join(modelDir, "model-00001-of-00002.safetensors"))
	require.NoError(t, err)
	assert.Nil(t, metadata)
}
