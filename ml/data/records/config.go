// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package records

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ImageOptionHParams is the configuration file version of ImageOption.
type ImageOptionHParams struct {
	ImageFeatureName string `mapstructure:"image_feature_name"`
	ResizeHeight     int    `mapstructure:"resize_height"`
	ResizeWidth      int    `mapstructure:"resize_width"`
	DType            string `mapstructure:"dtype"`
}

// HParams is the configuration of a Dataset, as read from configuration files.
//
// Example (YAML):
//
//	files: [data/train.rec]
//	feature_original_types:
//	  label: [int64, FixedLenFeature]
//	  shape: [int64, VarLenFeature]
//	  image_raw: [bytes, FixedLenFeature]
//	feature_convert_types:
//	  label: float32
//	image_options:
//	  - image_feature_name: image_raw
//	    resize_height: 512
//	    resize_width: 512
//
// Feature names are case-sensitive, as are the names given to NewSchema.
type HParams struct {
	Name                 string               `mapstructure:"name"`
	Files                []string             `mapstructure:"files"`
	FeatureOriginalTypes map[string][]string  `mapstructure:"feature_original_types"`
	FeatureConvertTypes  map[string]string    `mapstructure:"feature_convert_types"`
	ImageOptions         []ImageOptionHParams `mapstructure:"image_options"`
}

// DefaultHParams returns the values used for keys missing in configuration files.
func DefaultHParams() HParams {
	return HParams{
		FeatureConvertTypes: map[string]string{},
		ImageOptions:        []ImageOptionHParams{},
	}
}

// newViper returns a viper instance with the defaults set.
// Feature names may contain ".", so a different key delimiter is used.
func newViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	defaults := DefaultHParams()
	v.SetDefault("name", defaults.Name)
	v.SetDefault("files", []string{})
	return v
}

func unmarshalHParams(v *viper.Viper) (HParams, error) {
	hp := DefaultHParams()
	if err := v.Unmarshal(&hp); err != nil {
		return hp, errors.Wrapf(ErrConfig, "failed to parse hyperparameters: %v", err)
	}
	return hp, nil
}

// featureSections are the keys whose values are mappings keyed by feature name.
// viper lower-cases every key, so these are decoded from the raw configuration instead.
var featureSections = map[string]func(hp *HParams) any{
	"feature_original_types": func(hp *HParams) any {
		hp.FeatureOriginalTypes = nil
		return &hp.FeatureOriginalTypes
	},
	"feature_convert_types": func(hp *HParams) any {
		hp.FeatureConvertTypes = nil
		return &hp.FeatureConvertTypes
	},
}

// decodeFeatureSections overwrites the feature keyed sections of hp with the ones in raw, preserving
// the case of the feature names.
func decodeFeatureSections(raw map[string]any, hp *HParams) error {
	for key, value := range raw {
		target, found := featureSections[strings.ToLower(key)]
		if !found {
			continue
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           target(hp),
		})
		if err != nil {
			return errors.Wrapf(ErrConfig, "failed to create decoder for %q: %v", key, err)
		}
		if err := decoder.Decode(value); err != nil {
			return errors.Wrapf(ErrConfig, "failed to parse %q: %v", key, err)
		}
	}
	if hp.FeatureConvertTypes == nil {
		hp.FeatureConvertTypes = map[string]string{}
	}
	return nil
}

// readRawConfig parses the configuration file in path into plain nested mappings, keeping the keys as is.
func readRawConfig(path string) (map[string]any, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset configuration %q", path)
	}
	raw := make(map[string]any)
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "yaml", "yml":
		err = yaml.Unmarshal(contents, &raw)
	case "json":
		err = json.Unmarshal(contents, &raw)
	case "toml":
		err = toml.Unmarshal(contents, &raw)
	default:
		return nil, errors.Wrapf(ErrConfig, "unsupported configuration file type %q for %q", ext, path)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "failed to parse dataset configuration %q: %v", path, err)
	}
	return raw, nil
}

// LoadHParams reads the HParams from a configuration file (YAML, JSON or TOML, by extension).
// Missing keys take their default values.
func LoadHParams(path string) (HParams, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return HParams{}, errors.Wrapf(err, "failed to read dataset configuration %q", path)
	}
	hp, err := unmarshalHParams(v)
	if err != nil {
		return hp, err
	}
	raw, err := readRawConfig(path)
	if err != nil {
		return hp, err
	}
	return hp, decodeFeatureSections(raw, &hp)
}

// HParamsFromMap builds the HParams from plain nested mappings, as provided by configuration loaders.
func HParamsFromMap(values map[string]any) (HParams, error) {
	v := newViper()
	if err := v.MergeConfigMap(values); err != nil {
		return HParams{}, errors.Wrapf(ErrConfig, "failed to merge hyperparameters: %v", err)
	}
	hp, err := unmarshalHParams(v)
	if err != nil {
		return hp, err
	}
	return hp, decodeFeatureSections(values, &hp)
}

// ParseImageDType parses the dtype of an image option: "uint8" (or empty), "int32", "int64", "float32"
// or "float64".
func ParseImageDType(name string) (dtypes.DType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "uint8":
		return dtypes.Uint8, nil
	case "int32":
		return dtypes.Int32, nil
	case "int64":
		return dtypes.Int64, nil
	case "float32", "float":
		return dtypes.Float32, nil
	case "float64", "double":
		return dtypes.Float64, nil
	}
	return dtypes.InvalidDType, errors.Wrapf(ErrConfig, "unsupported image dtype %q", name)
}

// Config converts the HParams to a Config, parsing the type tags.
func (hp HParams) Config() (Config, error) {
	schema, err := ParseSchema(hp.FeatureOriginalTypes)
	if err != nil {
		return Config{}, err
	}
	config := Config{
		Name:        hp.Name,
		Files:       hp.Files,
		Schema:      schema,
		Conversions: make(map[string]LogicalType, len(hp.FeatureConvertTypes)),
	}
	for name, tag := range hp.FeatureConvertTypes {
		to, err := ParseLogicalType(tag)
		if err != nil {
			return Config{}, errors.Wrapf(ErrConfig, "feature_convert_types[%q]: %v", name, err)
		}
		config.Conversions[name] = to
	}
	for _, opt := range hp.ImageOptions {
		dtype, err := ParseImageDType(opt.DType)
		if err != nil {
			return Config{}, errors.WithMessagef(err, "image option for %q", opt.ImageFeatureName)
		}
		config.ImageOptions = append(config.ImageOptions, ImageOption{
			FeatureName:  opt.ImageFeatureName,
			ResizeHeight: opt.ResizeHeight,
			ResizeWidth:  opt.ResizeWidth,
			DType:        dtype,
		})
	}
	return config, nil
}

// New creates a Dataset from its HParams.
func New(hp HParams) (*Dataset, error) {
	config, err := hp.Config()
	if err != nil {
		return nil, err
	}
	return NewDataset(config)
}
