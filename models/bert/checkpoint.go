// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bert

import (
	"iter"
	"os"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/ml/data/huggingface"
	"github.com/recordml/recordml/types"
	"github.com/recordml/recordml/types/tensors"
	"k8s.io/klog/v2"
)

// checkpointName converts a tensor name used in checkpoints to the name of the model variable:
// the "bert." prefix is dropped, and the older "gamma"/"beta" LayerNorm names are renamed.
func checkpointName(name string) string {
	name = strings.TrimPrefix(name, "bert.")
	if strings.Contains(name, "LayerNorm.") {
		if base, found := strings.CutSuffix(name, ".gamma"); found {
			return base + ".weight"
		}
		if base, found := strings.CutSuffix(name, ".beta"); found {
			return base + ".bias"
		}
	}
	return name
}

// toFloat32 converts floating point values to Float32.
func toFloat32(t *tensors.Tensor) (*tensors.Tensor, error) {
	switch t.DType() {
	case dtypes.Float32:
		return t, nil
	case dtypes.Float64:
		var values []float32
		tensors.ConstFlatData(t, func(flat []float64) {
			values = make([]float32, len(flat))
			for ii, value := range flat {
				values[ii] = float32(value)
			}
		})
		result := tensors.FromFlatDataAndDimensions(values, t.Shape().Dimensions...)
		return result, nil
	}
	return nil, errors.Errorf("dtype %s is not supported for weights", t.DType())
}

// LoadTensors sets the model variables from named tensors, as read from a checkpoint.
//
// Tensor names may be prefixed with "bert.", and LayerNorm parameters may be named "gamma" and "beta".
// Float64 values are converted to Float32 (half precision values are already widened when read).
// Tensors that are not variables of the model (e.g.: the pre-training heads) are ignored.
// It is an error if a variable is missing or if a shape doesn't match, in which case no variable is changed.
func (m *Model) LoadTensors(namedTensors iter.Seq2[*huggingface.NamedTensor, error]) error {
	values := make(map[string]*tensors.Tensor, m.store.Len())
	loaded := types.MakeSet[string](m.store.Len())
	for nt, err := range namedTensors {
		if err != nil {
			return errors.WithMessage(err, "failed to read BERT checkpoint")
		}
		name := checkpointName(nt.Name)
		v := m.store.Get(name)
		if v == nil {
			klog.V(1).Infof("BERT checkpoint tensor %q ignored", nt.Name)
			continue
		}
		value, err := toFloat32(nt.Tensor)
		if err != nil {
			return errors.WithMessagef(err, "checkpoint tensor %q", nt.Name)
		}
		if err := value.Shape().Check(v.DType(), v.Shape().Dimensions...); err != nil {
			return errors.WithMessagef(err, "checkpoint tensor %q doesn't match the shape of variable %q", nt.Name, name)
		}
		values[name] = value
		loaded.Insert(name)
	}
	wanted := types.MakeSet[string](m.store.Len())
	for name := range m.store.All() {
		wanted.Insert(name)
	}
	if missing := wanted.Sub(loaded); len(missing) > 0 {
		return errors.Errorf("BERT checkpoint is missing %d variables: %q", len(missing), types.SortedElements(missing))
	}
	for name, value := range values {
		if err := m.store.Get(name).SetValue(value); err != nil {
			return err
		}
	}
	return nil
}

// LoadSafetensors loads the model variables from one or more ".safetensors" files (e.g.: shards).
// See LoadTensors for the conversions applied.
func (m *Model) LoadSafetensors(paths ...string) error {
	return m.LoadTensors(func(yield func(*huggingface.NamedTensor, error) bool) {
		for _, path := range paths {
			for nt, err := range huggingface.ReadSafetensorsFile(path) {
				if !yield(nt, err) || err != nil {
					return
				}
			}
		}
	})
}

// SaveSafetensors writes the model variables to path, in the ".safetensors" format, with the
// HuggingFace variable names. The pretrained model name, if any, is stored in the metadata.
//
// storedDType can be "F32" (or empty), "F16" or "BF16".
func (m *Model) SaveSafetensors(path string, storedDType string) error {
	var namedTensors []*huggingface.NamedTensor
	for name, v := range m.store.All() {
		namedTensors = append(namedTensors, &huggingface.NamedTensor{
			Name:        name,
			Tensor:      v.Value(),
			StoredDType: storedDType,
		})
	}
	metadata := map[string]string{"format": "pt"}
	if m.hp.PretrainedModelName != "" {
		metadata["pretrained_model_name"] = m.hp.PretrainedModelName
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	if err = huggingface.WriteSafetensors(f, namedTensors, metadata); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "failed to write BERT checkpoint to %q", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", path)
}

// NewPretrained creates a model for the HuggingFace model id and loads its weights from the ".safetensors"
// files in baseDir/<id> (see huggingface.New). Downloading is not supported: the files must be there already.
//
// If id is one of AvailableCheckpoints the architecture is known, otherwise it is read from the
// model's "config.json".
func NewPretrained(id string, baseDir string) (*Model, error) {
	hfm, err := huggingface.New(id, baseDir)
	if err != nil {
		return nil, err
	}
	var m *Model
	if _, found := pretrainedConfigs[id]; found {
		m, err = New(id, DefaultHParams())
	} else {
		config, configErr := hfm.Config()
		if configErr != nil {
			return nil, configErr
		}
		if config == nil {
			return nil, errors.Errorf("model %q is not a known BERT checkpoint and has no %s", id, huggingface.ConfigFile)
		}
		var hp HParams
		if hp, err = HParamsFromHFConfig(config); err != nil {
			return nil, errors.WithMessagef(err, "model %q", id)
		}
		m, err = New("", hp)
	}
	if err != nil {
		return nil, err
	}
	if err = m.LoadTensors(hfm.EnumerateTensors()); err != nil {
		return nil, errors.WithMessagef(err, "model %q", id)
	}
	klog.V(1).Infof("BERT model %q loaded from %q", id, hfm.BaseDir)
	return m, nil
}
