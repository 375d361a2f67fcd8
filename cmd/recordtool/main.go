// recordtool packs, inspects, validates and merges record files.
//
// Usage:
//
//	recordtool [flags] <command> [args...]
//
// Commands:
//
//	pack <input.jsonl>...  Writes the JSON-lines examples to -output, using the schema in -config.
//	inspect [files...]     Prints a summary of the dataset in -config and its first -limit examples.
//	validate [files...]    Decodes every example of the dataset in -config in parallel.
//	merge <files...>       Concatenates record files into -output.
//	checksum <file>        Prints the SHA256 of the file, or validates it against -sha256.
//
// For inspect and validate the files given as arguments, if any, replace the ones in -config.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/recordml/recordml/ml/data/records"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "",
		"Dataset configuration file (YAML, JSON or TOML) with the feature types, conversions and image options.")
	flagOutput      = flag.String("output", "", "Output record file for 'pack' and 'merge'.")
	flagLimit       = flag.Int("limit", 3, "Number of examples to print with 'inspect'.")
	flagBatchSize   = flag.Int("batch", 32, "Batch size used by 'validate'.")
	flagParallelism = flag.Int("parallelism", 0, "Number of goroutines decoding examples in 'validate'. 0 for the number of cores.")
	flagChecksum    = flag.String("sha256", "", "Expected SHA256 (hex encoded) of the file for 'checksum'.")
	flagProgress    = flag.Bool("progress", true, "Display progress bars.")
)

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage: %s [flags] <pack|inspect|validate|merge|checksum> [args...]\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing command. See 'recordtool -help'.")
		os.Exit(1)
	}
	var err error
	switch command, args := args[0], args[1:]; command {
	case "pack":
		err = runPack(args)
	case "inspect":
		err = runInspect(args)
	case "validate":
		err = runValidate(args)
	case "merge":
		err = runMerge(args)
	case "checksum":
		err = runChecksum(args)
	default:
		klog.Errorf("Unknown command %q. See 'recordtool -help'.", command)
		os.Exit(1)
	}
	if err != nil {
		klog.Errorf("%s failed: %+v", args[0], err)
		os.Exit(1)
	}
}

// loadHParams reads the dataset configuration given by -config.
func loadHParams() (records.HParams, error) {
	if *flagConfig == "" {
		return records.HParams{}, errors.New("missing -config with the dataset configuration")
	}
	return records.LoadHParams(*flagConfig)
}
