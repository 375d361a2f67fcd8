// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bert

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EmbedHParams configures a lookup table embedding.
type EmbedHParams struct {
	Dim       int `mapstructure:"dim"`
	VocabSize int `mapstructure:"vocab_size"`
}

// PositionEmbedHParams configures the learned absolute position embedding.
type PositionEmbedHParams struct {
	Dim int `mapstructure:"dim"`

	// PositionSize is the maximum sequence length supported.
	PositionSize int `mapstructure:"position_size"`
}

// EncoderHParams configures the stack of transformer blocks.
type EncoderHParams struct {
	Dim       int `mapstructure:"dim"`
	NumBlocks int `mapstructure:"num_blocks"`
	NumHeads  int `mapstructure:"num_heads"`

	// FFNDim is the size of the hidden layer of the position-wise feed-forward network.
	FFNDim int `mapstructure:"ffn_dim"`
}

// HParams holds the hyperparameters of the encoder.
//
// If PretrainedModelName is set (see AvailableCheckpoints) the architecture fields are taken
// from the pretrained configuration, see ResolveHParams.
type HParams struct {
	PretrainedModelName string `mapstructure:"pretrained_model_name"`

	Embed         EmbedHParams         `mapstructure:"embed"`
	SegmentEmbed  EmbedHParams         `mapstructure:"segment_embed"`
	PositionEmbed PositionEmbedHParams `mapstructure:"position_embed"`
	Encoder       EncoderHParams       `mapstructure:"encoder"`

	// HiddenSize is the size of the pooled output.
	HiddenSize int `mapstructure:"hidden_size"`

	LayerNormEpsilon float64 `mapstructure:"layer_norm_epsilon"`

	// InitStddev is the standard deviation of the truncated normal used to initialize weights.
	InitStddev float64 `mapstructure:"init_stddev"`

	// Seed for the random initialization of the weights.
	Seed uint64 `mapstructure:"seed"`
}

// DefaultHParams returns the hyperparameters of "bert-base-uncased".
func DefaultHParams() HParams {
	hp := HParams{
		PretrainedModelName: "bert-base-uncased",
		LayerNormEpsilon:    1e-12,
		InitStddev:          0.02,
		Seed:                42,
	}
	pretrainedConfigs[hp.PretrainedModelName].apply(&hp)
	return hp
}

// Validate checks that the architecture is consistent.
func (hp HParams) Validate() error {
	dim := hp.Encoder.Dim
	switch {
	case dim <= 0 || hp.Encoder.NumBlocks <= 0 || hp.Encoder.NumHeads <= 0 || hp.Encoder.FFNDim <= 0:
		return errors.Errorf("encoder dim (%d), num_blocks (%d), num_heads (%d) and ffn_dim (%d) must be positive",
			dim, hp.Encoder.NumBlocks, hp.Encoder.NumHeads, hp.Encoder.FFNDim)
	case dim%hp.Encoder.NumHeads != 0:
		return errors.Errorf("encoder dim %d is not divisible by num_heads %d", dim, hp.Encoder.NumHeads)
	case hp.Embed.Dim != dim || hp.SegmentEmbed.Dim != dim || hp.PositionEmbed.Dim != dim:
		return errors.Errorf("embed (%d), segment_embed (%d) and position_embed (%d) dims must match the encoder dim %d",
			hp.Embed.Dim, hp.SegmentEmbed.Dim, hp.PositionEmbed.Dim, dim)
	case hp.Embed.VocabSize <= 0 || hp.SegmentEmbed.VocabSize <= 0 || hp.PositionEmbed.PositionSize <= 0:
		return errors.Errorf("vocab_size (%d), segment vocab_size (%d) and position_size (%d) must be positive",
			hp.Embed.VocabSize, hp.SegmentEmbed.VocabSize, hp.PositionEmbed.PositionSize)
	case hp.HiddenSize <= 0:
		return errors.Errorf("hidden_size must be positive, got %d", hp.HiddenSize)
	case hp.LayerNormEpsilon <= 0:
		return errors.Errorf("layer_norm_epsilon must be positive, got %g", hp.LayerNormEpsilon)
	}
	return nil
}

// ResolveHParams returns the hyperparameters actually used by a model created with the given
// pretrained model name and hyperparameters.
//
// The pretrainedModelName, if not empty, takes priority over hp.PretrainedModelName. If the resolved
// name is not empty, the architecture (embeddings, encoder, hidden size) is taken from its pretrained
// configuration, and only the initialization fields of hp are kept. If both are empty, hp is used as is.
func ResolveHParams(pretrainedModelName string, hp HParams) (HParams, error) {
	name := pretrainedModelName
	if name == "" {
		name = hp.PretrainedModelName
	}
	if name != "" {
		config, found := pretrainedConfigs[name]
		if !found {
			return hp, errors.Errorf("unknown pretrained model %q, available checkpoints: %q", name, AvailableCheckpoints())
		}
		hp.PretrainedModelName = name
		config.apply(&hp)
	}
	if err := hp.Validate(); err != nil {
		return hp, errors.WithMessage(err, "invalid BERT hyperparameters")
	}
	return hp, nil
}

func unmarshalHParams(v *viper.Viper) (HParams, error) {
	hp := DefaultHParams()
	if err := v.Unmarshal(&hp); err != nil {
		return hp, errors.Wrap(err, "failed to parse BERT hyperparameters")
	}
	return hp, nil
}

// LoadHParams reads the HParams from a configuration file (YAML, JSON or TOML, by extension).
// Missing keys take their default values.
func LoadHParams(path string) (HParams, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return HParams{}, errors.Wrapf(err, "failed to read BERT configuration %q", path)
	}
	return unmarshalHParams(v)
}

// HParamsFromMap builds the HParams from nested mappings, merged over DefaultHParams.
//
// Example:
//
//	hp, err := bert.HParamsFromMap(map[string]any{
//		"pretrained_model_name": "",
//		"encoder": map[string]any{"num_blocks": 6},
//	})
func HParamsFromMap(values map[string]any) (HParams, error) {
	v := viper.New()
	if err := v.MergeConfigMap(values); err != nil {
		return HParams{}, errors.Wrap(err, "failed to merge BERT hyperparameters")
	}
	return unmarshalHParams(v)
}

// HParamsFromHFConfig converts the contents of a HuggingFace "config.json" of a BERT model.
// Keys not present keep the values of DefaultHParams, and PretrainedModelName is cleared.
func HParamsFromHFConfig(config map[string]any) (HParams, error) {
	hp := DefaultHParams()
	hp.PretrainedModelName = ""
	ints := map[string][]*int{
		"vocab_size":              {&hp.Embed.VocabSize},
		"type_vocab_size":         {&hp.SegmentEmbed.VocabSize},
		"max_position_embeddings": {&hp.PositionEmbed.PositionSize},
		"hidden_size":             {&hp.Embed.Dim, &hp.SegmentEmbed.Dim, &hp.PositionEmbed.Dim, &hp.Encoder.Dim, &hp.HiddenSize},
		"num_hidden_layers":       {&hp.Encoder.NumBlocks},
		"num_attention_heads":     {&hp.Encoder.NumHeads},
		"intermediate_size":       {&hp.Encoder.FFNDim},
	}
	for key, targets := range ints {
		value, found := config[key]
		if !found {
			continue
		}
		number, ok := value.(float64)
		if !ok || number != float64(int(number)) {
			return hp, errors.Errorf("config.json: %q must be an integer, got %v", key, value)
		}
		for _, target := range targets {
			*target = int(number)
		}
	}
	if value, found := config["layer_norm_eps"]; found {
		eps, ok := value.(float64)
		if !ok {
			return hp, errors.Errorf("config.json: \"layer_norm_eps\" must be a number, got %v", value)
		}
		hp.LayerNormEpsilon = eps
	}
	if value, found := config["hidden_act"]; found && value != "gelu" {
		return hp, errors.Errorf("config.json: only \"gelu\" activation is supported, got %v", value)
	}
	if value, found := config["initializer_range"].(float64); found {
		hp.InitStddev = value
	}
	return hp, hp.Validate()
}
