// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bert implements the BERT text encoder: token, segment and position embeddings followed by
// a stack of post-LayerNorm transformer blocks, and a pooler applied to the first token.
//
// Weights are held in host memory (see models.Store), use the HuggingFace variable names, and can be
// loaded from ".safetensors" checkpoints. The forward pass runs on the CPU using gonum.
//
// Example:
//
//	model := must.M1(bert.New("", bert.DefaultHParams()))
//	inputIDs := tensors.FromValue([][]int64{{101, 7592, 102}})
//	outputs, pooled := must.M2(model.Encode(inputIDs, nil, nil))
//	fmt.Printf("outputs: %s, pooled: %s\n", outputs.Shape(), pooled.Shape())
package bert

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/recordml/recordml/internal/workerspool"
	"github.com/recordml/recordml/models"
	"github.com/recordml/recordml/types/shapes"
	"k8s.io/klog/v2"
)

// Model is a BERT encoder with its weights.
//
// Encode can be called concurrently. Loading weights must not happen concurrently with Encode.
type Model struct {
	hp    HParams
	store *models.Store
	pool  *workerspool.Pool
}

// New creates a model with randomly initialized weights. The weights are only generated when first used.
//
// The pretrainedModelName, if given, takes priority over hp.PretrainedModelName, see ResolveHParams.
// Use NewPretrained or Model.LoadSafetensors to load pretrained weights.
func New(pretrainedModelName string, hp HParams) (*Model, error) {
	hp, err := ResolveHParams(pretrainedModelName, hp)
	if err != nil {
		return nil, err
	}
	m := &Model{hp: hp, store: models.NewStore(), pool: workerspool.New()}
	m.createVariables()
	klog.V(1).Infof("BERT model %q created: %d variables, %d parameters",
		hp.PretrainedModelName, m.store.Len(), m.store.NumParameters())
	return m, nil
}

// WithParallelism sets the maximum number of examples of a batch encoded in parallel.
// It defaults to the number of cores, 0 disables parallelism.
func (m *Model) WithParallelism(n int) *Model {
	m.pool.SetMaxParallelism(n)
	return m
}

// HParams returns the resolved hyperparameters of the model.
func (m *Model) HParams() HParams { return m.hp }

// OutputSize is the dimension of the pooled output.
func (m *Model) OutputSize() int { return m.hp.HiddenSize }

// TrainableVariables returns the trainable variables of the model, in creation order.
func (m *Model) TrainableVariables() []*models.Variable { return m.store.Trainable() }

// Variables returns the store with all the variables of the model.
func (m *Model) Variables() *models.Store { return m.store }

// Variable names, following HuggingFace conventions.
const (
	wordEmbeddingsName     = "embeddings.word_embeddings.weight"
	positionEmbeddingsName = "embeddings.position_embeddings.weight"
	segmentEmbeddingsName  = "embeddings.token_type_embeddings.weight"
	embeddingsNormName     = "embeddings.LayerNorm"
	poolerName             = "pooler.dense"
)

func layerScope(layer int) string { return fmt.Sprintf("encoder.layer.%d.", layer) }

func (m *Model) createVariables() {
	hp := m.hp
	dim := hp.Encoder.Dim
	f32 := func(dims ...int) shapes.Shape { return shapes.Make(dtypes.Float32, dims...) }
	// Each random variable gets its own generator, so values don't depend on the order they are first read.
	var numRandom uint64
	initializer := func() models.VariableInitializer {
		numRandom++
		return models.TruncatedNormalFn(hp.Seed+numRandom, hp.InitStddev)
	}

	linear := func(scope string, in, out int) {
		m.store.Create(scope+".weight", f32(out, in), initializer())
		m.store.Create(scope+".bias", f32(out), models.Zero)
	}
	layerNorm := func(scope string) {
		m.store.Create(scope+".weight", f32(dim), models.One)
		m.store.Create(scope+".bias", f32(dim), models.Zero)
	}

	m.store.Create(wordEmbeddingsName, f32(hp.Embed.VocabSize, dim), initializer())
	m.store.Create(positionEmbeddingsName, f32(hp.PositionEmbed.PositionSize, dim), initializer())
	m.store.Create(segmentEmbeddingsName, f32(hp.SegmentEmbed.VocabSize, dim), initializer())
	layerNorm(embeddingsNormName)
	for layer := range hp.Encoder.NumBlocks {
		scope := layerScope(layer)
		linear(scope+"attention.self.query", dim, dim)
		linear(scope+"attention.self.key", dim, dim)
		linear(scope+"attention.self.value", dim, dim)
		linear(scope+"attention.output.dense", dim, dim)
		layerNorm(scope + "attention.output.LayerNorm")
		linear(scope+"intermediate.dense", dim, hp.Encoder.FFNDim)
		linear(scope+"output.dense", hp.Encoder.FFNDim, dim)
		layerNorm(scope + "output.LayerNorm")
	}
	linear(poolerName, dim, hp.HiddenSize)
}
