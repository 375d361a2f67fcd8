// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bert

import (
	"maps"
	"slices"
)

// pretrainedConfig holds the architecture of a published BERT checkpoint.
type pretrainedConfig struct {
	vocabSize, dim, numBlocks, numHeads, ffnDim int
}

const (
	pretrainedPositionSize  = 512
	pretrainedTypeVocabSize = 2
)

var pretrainedConfigs = map[string]pretrainedConfig{
	"bert-base-uncased":              {30522, 768, 12, 12, 3072},
	"bert-large-uncased":             {30522, 1024, 24, 16, 4096},
	"bert-base-cased":                {28996, 768, 12, 12, 3072},
	"bert-large-cased":               {28996, 1024, 24, 16, 4096},
	"bert-base-multilingual-uncased": {105879, 768, 12, 12, 3072},
	"bert-base-multilingual-cased":   {119547, 768, 12, 12, 3072},
	"bert-base-chinese":              {21128, 768, 12, 12, 3072},
}

// apply sets the architecture fields of hp.
func (c pretrainedConfig) apply(hp *HParams) {
	hp.Embed = EmbedHParams{Dim: c.dim, VocabSize: c.vocabSize}
	hp.SegmentEmbed = EmbedHParams{Dim: c.dim, VocabSize: pretrainedTypeVocabSize}
	hp.PositionEmbed = PositionEmbedHParams{Dim: c.dim, PositionSize: pretrainedPositionSize}
	hp.Encoder = EncoderHParams{Dim: c.dim, NumBlocks: c.numBlocks, NumHeads: c.numHeads, FFNDim: c.ffnDim}
	hp.HiddenSize = c.dim
	hp.LayerNormEpsilon = 1e-12
}

// AvailableCheckpoints returns the names of the pretrained models supported, sorted.
func AvailableCheckpoints() []string {
	return slices.Sorted(maps.Keys(pretrainedConfigs))
}
