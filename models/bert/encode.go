// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bert

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/types/shapes"
	"github.com/recordml/recordml/types/tensors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// dense is a linear layer: y = x·Wᵀ + b, with W shaped [outputDim, inputDim].
type dense struct {
	w *mat.Dense
	b []float64
}

func (l dense) apply(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	outputDim, _ := l.w.Dims()
	y := mat.NewDense(rows, outputDim, nil)
	y.Mul(x, l.w.T())
	for row := range rows {
		floats.Add(y.RawRowView(row), l.b)
	}
	return y
}

// layerNorm normalizes each row of x in place.
type layerNorm struct {
	gamma, beta []float64
	epsilon     float64
}

func (ln layerNorm) apply(x *mat.Dense) {
	rows, cols := x.Dims()
	n := float64(cols)
	for row := range rows {
		values := x.RawRowView(row)
		floats.AddConst(-floats.Sum(values)/n, values)
		variance := floats.Dot(values, values) / n
		floats.Scale(1/math.Sqrt(variance+ln.epsilon), values)
		floats.Mul(values, ln.gamma)
		floats.Add(values, ln.beta)
	}
}

// block is one transformer layer, with its weights converted for the forward pass.
type block struct {
	query, key, value, attentionOutput dense
	attentionNorm                      layerNorm
	intermediate, output               dense
	outputNorm                         layerNorm
	numHeads                           int
}

// apply runs the block on the embeddings x of one example shaped [T, Dim], where only the first
// seqLen positions can be attended to.
func (blk *block) apply(x *mat.Dense, seqLen int) *mat.Dense {
	numPositions, dim := x.Dims()
	q, k, v := blk.query.apply(x), blk.key.apply(x), blk.value.apply(x)
	headDim := dim / blk.numHeads
	scale := 1 / math.Sqrt(float64(headDim))

	attended := mat.NewDense(numPositions, dim, nil)
	scores := mat.NewDense(numPositions, seqLen, nil)
	for head := range blk.numHeads {
		from, to := head*headDim, (head+1)*headDim
		scores.Mul(q.Slice(0, numPositions, from, to), k.Slice(0, seqLen, from, to).T())
		scores.Scale(scale, scores)
		for row := range numPositions {
			softmax(scores.RawRowView(row))
		}
		attended.Slice(0, numPositions, from, to).(*mat.Dense).Mul(scores, v.Slice(0, seqLen, from, to))
	}

	hidden := blk.attentionOutput.apply(attended)
	hidden.Add(hidden, x)
	blk.attentionNorm.apply(hidden)

	ffn := blk.intermediate.apply(hidden)
	ffn.Apply(func(_, _ int, value float64) float64 { return gelu(value) }, ffn)
	output := blk.output.apply(ffn)
	output.Add(output, hidden)
	blk.outputNorm.apply(output)
	return output
}

// gelu is the exact (erf based) Gaussian Error Linear Unit.
func gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}

func softmax(values []float64) {
	maxValue := floats.Max(values)
	for ii, value := range values {
		values[ii] = math.Exp(value - maxValue)
	}
	floats.Scale(1/floats.Sum(values), values)
}

// matrix returns the rank-2 variable name converted to a gonum matrix.
func (m *Model) matrix(name string) *mat.Dense {
	value := m.store.Get(name).Value()
	shapes.AssertRank(value, 2)
	dims := value.Shape().Dimensions
	return mat.NewDense(dims[0], dims[1], m.vector(name))
}

// vector returns the values of the variable name converted to float64.
func (m *Model) vector(name string) []float64 {
	var values []float64
	tensors.ConstFlatData(m.store.Get(name).Value(), func(flat []float32) {
		values = make([]float64, len(flat))
		for ii, value := range flat {
			values[ii] = float64(value)
		}
	})
	return values
}

func (m *Model) dense(scope string) dense {
	w := m.matrix(scope + ".weight")
	outputDim, _ := w.Dims()
	shapes.AssertDims(m.store.Get(scope+".bias"), outputDim)
	return dense{w: w, b: m.vector(scope + ".bias")}
}

func (m *Model) layerNorm(scope string) layerNorm {
	return layerNorm{gamma: m.vector(scope + ".weight"), beta: m.vector(scope + ".bias"), epsilon: m.hp.LayerNormEpsilon}
}

func (m *Model) block(layer int) *block {
	scope := layerScope(layer)
	return &block{
		query:           m.dense(scope + "attention.self.query"),
		key:             m.dense(scope + "attention.self.key"),
		value:           m.dense(scope + "attention.self.value"),
		attentionOutput: m.dense(scope + "attention.output.dense"),
		attentionNorm:   m.layerNorm(scope + "attention.output.LayerNorm"),
		intermediate:    m.dense(scope + "intermediate.dense"),
		output:          m.dense(scope + "output.dense"),
		outputNorm:      m.layerNorm(scope + "output.LayerNorm"),
		numHeads:        m.hp.Encoder.NumHeads,
	}
}

// intValues returns the values of an Int64 or Int32 tensor.
func intValues(t *tensors.Tensor, name string) ([]int, error) {
	values := make([]int, t.Size())
	switch t.DType() {
	case dtypes.Int64:
		tensors.ConstFlatData(t, func(flat []int64) {
			for ii, value := range flat {
				values[ii] = int(value)
			}
		})
	case dtypes.Int32:
		tensors.ConstFlatData(t, func(flat []int32) {
			for ii, value := range flat {
				values[ii] = int(value)
			}
		})
	default:
		return nil, errors.Errorf("%s must be Int64 or Int32, got %s", name, t.DType())
	}
	return values, nil
}

// Encode runs the encoder.
//
// inputIDs are the token ids shaped [batchSize, numPositions] (Int64 or Int32). segmentIDs (the token types)
// has the same shape, and if nil all tokens are in segment 0. seqLens holds the number of valid tokens of
// each example: padding positions beyond it are not attended to. If seqLens is nil all positions are valid.
//
// It returns the outputs of the last transformer block, shaped [batchSize, numPositions, Encoder.Dim], and
// the pooled output of the first token, shaped [batchSize, HiddenSize], both Float32.
func (m *Model) Encode(inputIDs, segmentIDs *tensors.Tensor, seqLens []int) (outputs, pooled *tensors.Tensor, err error) {
	hp := m.hp
	if inputIDs == nil {
		return nil, nil, errors.New("inputIDs must be shaped [batchSize, numPositions], got nil")
	}
	if err := inputIDs.Shape().CheckDims(shapes.UncheckedAxis, shapes.UncheckedAxis); err != nil {
		return nil, nil, errors.WithMessage(err, "inputIDs must be shaped [batchSize, numPositions]")
	}
	batchSize, numPositions := inputIDs.Shape().Dim(0), inputIDs.Shape().Dim(1)
	if batchSize == 0 || numPositions == 0 {
		return nil, nil, errors.Errorf("inputIDs shape %s is empty", inputIDs.Shape())
	}
	if numPositions > hp.PositionEmbed.PositionSize {
		return nil, nil, errors.Errorf("sequence length %d is larger than the maximum position size %d",
			numPositions, hp.PositionEmbed.PositionSize)
	}
	ids, err := intValues(inputIDs, "inputIDs")
	if err != nil {
		return nil, nil, err
	}
	segments := make([]int, len(ids))
	if segmentIDs != nil {
		if err := segmentIDs.Shape().CheckDims(batchSize, numPositions); err != nil {
			return nil, nil, errors.WithMessagef(err, "segmentIDs must match inputIDs shape %s", inputIDs.Shape())
		}
		if segments, err = intValues(segmentIDs, "segmentIDs"); err != nil {
			return nil, nil, err
		}
	}
	for ii := range ids {
		if ids[ii] < 0 || ids[ii] >= hp.Embed.VocabSize {
			return nil, nil, errors.Errorf("token id %d out of range [0, %d)", ids[ii], hp.Embed.VocabSize)
		}
		if segments[ii] < 0 || segments[ii] >= hp.SegmentEmbed.VocabSize {
			return nil, nil, errors.Errorf("segment id %d out of range [0, %d)", segments[ii], hp.SegmentEmbed.VocabSize)
		}
	}
	if seqLens == nil {
		seqLens = make([]int, batchSize)
		for ii := range seqLens {
			seqLens[ii] = numPositions
		}
	} else if len(seqLens) != batchSize {
		return nil, nil, errors.Errorf("got %d seqLens for a batch of size %d", len(seqLens), batchSize)
	}
	for _, seqLen := range seqLens {
		if seqLen <= 0 || seqLen > numPositions {
			return nil, nil, errors.Errorf("seqLens value %d out of range [1, %d]", seqLen, numPositions)
		}
	}

	hidden := m.embed(ids, segments, batchSize, numPositions)
	for layer := range hp.Encoder.NumBlocks {
		blk := m.block(layer)
		m.pool.ForEach(batchSize, func(example int) {
			hidden[example] = blk.apply(hidden[example], seqLens[example])
		})
	}

	dim := hp.Encoder.Dim
	firstTokens := mat.NewDense(batchSize, dim, nil)
	outputs = tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, numPositions, dim))
	tensors.MutableFlatData(outputs, func(flat []float32) {
		for example, x := range hidden {
			firstTokens.SetRow(example, x.RawRowView(0))
			exampleFlat := flat[example*numPositions*dim : (example+1)*numPositions*dim]
			for ii, value := range x.RawMatrix().Data {
				exampleFlat[ii] = float32(value)
			}
		}
	})

	pooledValues := m.dense(poolerName).apply(firstTokens)
	pooledValues.Apply(func(_, _ int, value float64) float64 { return math.Tanh(value) }, pooledValues)
	pooled = tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, hp.HiddenSize))
	tensors.MutableFlatData(pooled, func(flat []float32) {
		for ii, value := range pooledValues.RawMatrix().Data {
			flat[ii] = float32(value)
		}
	})
	return outputs, pooled, nil
}

// embed returns the normalized sum of the token, position and segment embeddings of each example.
func (m *Model) embed(ids, segments []int, batchSize, numPositions int) []*mat.Dense {
	dim := m.hp.Encoder.Dim
	word := m.store.Get(wordEmbeddingsName).Value()
	position := m.store.Get(positionEmbeddingsName).Value()
	segment := m.store.Get(segmentEmbeddingsName).Value()
	norm := m.layerNorm(embeddingsNormName)

	hidden := make([]*mat.Dense, batchSize)
	for example := range batchSize {
		x := mat.NewDense(numPositions, dim, nil)
		for pos := range numPositions {
			idx := example*numPositions + pos
			row := x.RawRowView(pos)
			addRow(row, word, ids[idx])
			addRow(row, position, pos)
			addRow(row, segment, segments[idx])
		}
		norm.apply(x)
		hidden[example] = x
	}
	return hidden
}

// addRow adds the row of the embedding table to values.
func addRow(values []float64, table *tensors.Tensor, row int) {
	dim := len(values)
	tensors.ConstFlatData(table, func(flat []float32) {
		for ii, value := range flat[row*dim : (row+1)*dim] {
			values[ii] += float64(value)
		}
	})
}
