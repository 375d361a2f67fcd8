// Package huggingface 🤗 provides functionality to read HuggingFace (HF) models stored locally,
// and to extract tensors stored in the ".safetensors" format.
//
// Downloading is not handled: the model files are expected to be already in the model's directory.
//
// Example: enumerate all the tensors of a BERT model:
//
//	import (
//		"github.com/janpfeifer/must"
//		hfd "github.com/recordml/recordml/ml/data/huggingface"
//	)
//
//	var flagDataDir = flag.String("data", "~/work/models", "Directory with the models.")
//
//	func main() {
//		flag.Parse()
//		hfm := must.M1(hfd.New("bert-base-uncased", *flagDataDir))
//		for e, err := range hfm.EnumerateTensors() {
//			must.M(err)
//			fmt.Printf("\t%s -> %s\n", e.Name, e.Tensor.Shape())
//		}
//	}
package huggingface

import (
	"encoding/json"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/recordml/recordml/ml/data"
)

// Model is a reference to a HuggingFace model stored locally.
type Model struct {
	// ID may include owner/model. E.g.: google-bert/bert-base-uncased
	ID string

	// BaseDir is where the local copy of the model is stored.
	BaseDir string
}

// ConfigFile is the HuggingFace file with the model's configuration.
const ConfigFile = "config.json"

// New creates a reference to a HuggingFace model given its id, stored under baseDir/<id>.
//
// A "/" in the id (owner/model) is converted to "_".
// So the same baseDir can be used to hold different models.
func New(id string, baseDir string) (*Model, error) {
	baseDir = data.ReplaceTildeInDir(baseDir)
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find absolute path for huggingface.New() baseDir %q", baseDir)
	}
	modelDir := filepath.Join(absDir, strings.ReplaceAll(id, "/", "_"))
	if !data.FileExists(modelDir) {
		return nil, errors.Errorf("model %q not found in %q: files must be downloaded beforehand", id, modelDir)
	}
	return &Model{
		ID:      id,
		BaseDir: modelDir,
	}, nil
}

// SafetensorsFiles lists the ".safetensors" files of the model, sorted.
// Sharded checkpoints (model-00001-of-00002.safetensors, ...) are returned in shard order.
func (hfm *Model) SafetensorsFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(hfm.BaseDir, "*.safetensors"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list files in %q", hfm.BaseDir)
	}
	if len(files) == 0 {
		return nil, errors.Errorf("model %q has no .safetensors files in %q", hfm.ID, hfm.BaseDir)
	}
	slices.Sort(files)
	return files, nil
}

// Config reads the model's "config.json", if present. It returns nil if there is no such file.
func (hfm *Model) Config() (map[string]any, error) {
	configPath := filepath.Join(hfm.BaseDir, ConfigFile)
	contents, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read %q", configPath)
	}
	var config map[string]any
	if err = json.Unmarshal(contents, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse json from %q", configPath)
	}
	return config, nil
}

// EnumerateTensors returns an iterator over all the tensors stored in ".safetensors" files,
// already converted to *tensors.Tensor, with their associated names.
func (hfm *Model) EnumerateTensors() iter.Seq2[*NamedTensor, error] {
	return func(yield func(*NamedTensor, error) bool) {
		files, err := hfm.SafetensorsFiles()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, filePath := range files {
			for tInfo, err := range ReadSafetensorsFile(filePath) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(tInfo, nil) {
					return
				}
			}
		}
	}
}
