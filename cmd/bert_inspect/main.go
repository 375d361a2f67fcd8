// bert_inspect loads a BERT model and reports its hyperparameters and variables. It can also create
// randomly initialized checkpoints, perturb the weights of a checkpoint and encode token ids.
//
// Usage:
//
//	bert_inspect [flags] <model.safetensors | HuggingFace model id>
//
// A HuggingFace model id (e.g.: "bert-base-uncased") is looked up under -data, and must have been
// downloaded already. For a ".safetensors" file the architecture is given by -pretrained or -config.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/models/bert"
	"github.com/recordml/recordml/types/tensors"
	"k8s.io/klog/v2"
)

var (
	flagData       = flag.String("data", "~/work/models", "Directory where HuggingFace models are stored, one sub-directory per model.")
	flagPretrained = flag.String("pretrained", "", "Pretrained model name defining the architecture of a .safetensors file or of -init. "+
		"One of: "+strings.Join(bert.AvailableCheckpoints(), ", "))
	flagConfig = flag.String("config", "", "Configuration file (YAML, JSON or TOML) with the BERT hyperparameters.")

	flagSummary  = flag.Bool("summary", true, "Display a summary of the model sizes.")
	flagParams   = flag.Bool("params", false, "Lists the hyperparameters.")
	flagVars     = flag.Bool("vars", false, "Lists the variables with their statistics.")
	flagGlossary = flag.Bool("glossary", true, "Whether to list glossary of the statistics of the variables.")
	flagEncode   = flag.String("encode", "", "Comma-separated token ids to encode, e.g.: \"101,7592,102\".")

	flagInit   = flag.Bool("init", false, "Creates a randomly initialized model, instead of loading one, and saves it to -output.")
	flagOutput = flag.String("output", "", "Where to save the model after -init or -perturb, in .safetensors format.")
	flagDType  = flag.String("dtype", "F32", "DType used to store the weights with -output: F32, F16 or BF16.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	var m *bert.Model
	if *flagInit {
		if len(args) > 0 {
			klog.Errorf("No model to load is expected with -init. See 'bert_inspect -help'.")
			os.Exit(1)
		}
		m = must.M1(bert.New(*flagPretrained, must.M1(hparams())))
	} else {
		if len(args) != 1 {
			klog.Errorf("Expected one model to inspect. See 'bert_inspect -help'.")
			os.Exit(1)
		}
		m = must.M1(loadModel(args[0]))
	}
	report(m)
	if *flagPerturb > 0 {
		PerturbVars(m, *flagPerturb, *flagSeed)
	}
	if *flagOutput != "" {
		must.M(m.SaveSafetensors(*flagOutput, *flagDType))
		fmt.Printf("Model saved to %q\n", *flagOutput)
	} else if *flagInit || *flagPerturb > 0 {
		klog.Warningf("Model not saved, set -output to save it.")
	}
}

// hparams returns the hyperparameters from -config, or the defaults.
func hparams() (bert.HParams, error) {
	if *flagConfig == "" {
		return bert.DefaultHParams(), nil
	}
	return bert.LoadHParams(*flagConfig)
}

// loadModel loads a ".safetensors" file or a HuggingFace model stored under -data.
func loadModel(arg string) (*bert.Model, error) {
	if !strings.HasSuffix(arg, ".safetensors") {
		return bert.NewPretrained(arg, *flagData)
	}
	hp, err := hparams()
	if err != nil {
		return nil, err
	}
	m, err := bert.New(*flagPretrained, hp)
	if err != nil {
		return nil, err
	}
	return m, m.LoadSafetensors(arg)
}

// parseIDs parses a comma-separated list of token ids into a tensor shaped [1, numTokens].
func parseIDs(list string) (*tensors.Tensor, error) {
	parts := strings.Split(list, ",")
	ids := make([]int64, len(parts))
	for ii, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid token id %q", part)
		}
		ids[ii] = id
	}
	return tensors.FromFlatDataAndDimensions(ids, 1, len(ids)), nil
}

func report(m *bert.Model) {
	hp := m.HParams()
	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		table := newPlainTable(lipgloss.Right, lipgloss.Left)
		name := hp.PretrainedModelName
		if name == "" {
			name = "<custom>"
		}
		table.Row("architecture", name)
		store := m.Variables()
		var totalMemory uintptr
		for _, v := range store.All() {
			totalMemory += v.Shape().Memory()
		}
		table.Row("# variables", humanize.Comma(int64(store.Len())))
		table.Row("# trainable", humanize.Comma(int64(len(m.TrainableVariables()))))
		table.Row("# parameters", humanize.Comma(int64(store.NumParameters())))
		table.Row("# bytes", humanize.Bytes(uint64(totalMemory)))
		fmt.Println(table.Render())
	}

	if *flagParams {
		fmt.Println(titleStyle.Render("Hyperparameters"))
		table := newPlainTable(lipgloss.Left)
		table.Headers("Name", "Value")
		for _, row := range hparamsRows(hp) {
			table.Row(row...)
		}
		fmt.Println(table.Render())
	}

	if *flagVars {
		ListVariables(m)
	}

	if *flagEncode != "" {
		ids := must.M1(parseIDs(*flagEncode))
		outputs, pooled := must.M2(m.Encode(ids, nil, nil))
		fmt.Println(titleStyle.Render("Encoding"))
		table := newPlainTable(lipgloss.Right, lipgloss.Left)
		table.Row("token ids", *flagEncode)
		table.Row("outputs", outputs.Shape().String())
		mav, rms, maxAV := statistics(outputs)
		table.Row("outputs MAV / RMS / MaxAV", fmt.Sprintf("%.3g / %.3g / %.3g", mav, rms, maxAV))
		table.Row("pooled", pooled.String())
		fmt.Println(table.Render())
	}
}

// hparamsRows lists the hyperparameters as name/value pairs, named as in configuration files.
func hparamsRows(hp bert.HParams) [][]string {
	itoa := strconv.Itoa
	return [][]string{
		{"pretrained_model_name", hp.PretrainedModelName},
		{"embed.dim", itoa(hp.Embed.Dim)},
		{"embed.vocab_size", itoa(hp.Embed.VocabSize)},
		{"segment_embed.dim", itoa(hp.SegmentEmbed.Dim)},
		{"segment_embed.vocab_size", itoa(hp.SegmentEmbed.VocabSize)},
		{"position_embed.dim", itoa(hp.PositionEmbed.Dim)},
		{"position_embed.position_size", itoa(hp.PositionEmbed.PositionSize)},
		{"encoder.dim", itoa(hp.Encoder.Dim)},
		{"encoder.num_blocks", itoa(hp.Encoder.NumBlocks)},
		{"encoder.num_heads", itoa(hp.Encoder.NumHeads)},
		{"encoder.ffn_dim", itoa(hp.Encoder.FFNDim)},
		{"hidden_size", itoa(hp.HiddenSize)},
		{"layer_norm_epsilon", fmt.Sprintf("%g", hp.LayerNormEpsilon)},
		{"init_stddev", fmt.Sprintf("%g", hp.InitStddev)},
		{"seed", strconv.FormatUint(hp.Seed, 10)},
	}
}
