package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/recordml/recordml/models/bert"
	"github.com/recordml/recordml/types/tensors"
	"gonum.org/v1/gonum/floats"
)

var (
	flagPerturb = flag.Float64("perturb", 0,
		"Perturbs trainable variables by <x>: it multiplies the weights by 1.0+(RandomUniform(-1, 1)*x). "+
			"Use -output to save the perturbed model.")
	flagSeed = flag.Uint64("seed", 0, "Seed used by -perturb.")
)

// statistics returns the MAV (mean absolute value), RMS (root-mean-square) and MaxAV (max absolute value)
// of a Float32 tensor.
func statistics(t *tensors.Tensor) (mav, rms, maxAV float64) {
	values := make([]float64, t.Size())
	tensors.ConstFlatData(t, func(flat []float32) {
		for ii, v := range flat {
			values[ii] = float64(v)
		}
	})
	if len(values) == 0 {
		return
	}
	n := float64(len(values))
	mav = floats.Norm(values, 1) / n
	rms = floats.Norm(values, 2) / math.Sqrt(n)
	maxAV = floats.Norm(values, math.Inf(1))
	return
}

// ListVariables list the variables of a model, with their shape and MAV (mean absolute value), RMS (root-mean-square) and MaxAV (max absolute value) values.
func ListVariables(m *bert.Model) {
	fmt.Println(titleStyle.Render("Variables"))
	table := newPlainTable(lipgloss.Left)
	table.Headers("Name", "Shape", "Size", "Bytes", "MAV", "RMS", "MaxAV")
	for name, v := range m.Variables().All() {
		shape := v.Shape()
		mav, rms, maxAV := statistics(v.Value())
		table.Row(name, shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
			fmt.Sprintf("%.3g", mav), fmt.Sprintf("%.3g", rms), fmt.Sprintf("%.3g", maxAV))
	}
	fmt.Println(table.Render())
	if *flagGlossary {
		fmt.Printf("  %s:\n", sectionStyle.Render("Glossary"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("MAV"), italicStyle.Render("Mean Absolute Value"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("RMS"), italicStyle.Render("Root Mean Square"))
		fmt.Printf("   ◦ %s: %s\n", emphasisStyle.Render("MaxAV"), italicStyle.Render("Max Absolute Value"))
	}
}

// PerturbVars multiplies the trainable variables by 1+U(-x, x).
func PerturbVars(m *bert.Model, x float64, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	var numUpdates int
	for _, v := range m.TrainableVariables() {
		values := tensors.CopyFlatData[float32](v.Value())
		for ii := range values {
			// Perturbation from 1-x to 1+x.
			values[ii] *= float32(1 + (2*rng.Float64()-1)*x)
		}
		must.M(v.SetValue(tensors.FromFlatDataAndDimensions(values, v.Shape().Dimensions...)))
		numUpdates++
	}
	fmt.Printf("%d variables perturbed.\n", numUpdates)
}
